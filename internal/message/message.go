// Package message defines the JSON events exchanged with clients over the
// WebSocket. Every frame is an Envelope whose payload shape depends on its
// type.
package message

import (
	"encoding/json"
	"time"
)

// Kind is the content kind of a relayed chat message.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

// ClientKind maps the kind a client put on send_message to the set a
// client may use. An empty kind is text. System notices are server-only,
// so KindSystem and unknown kinds report false.
func ClientKind(k Kind) (Kind, bool) {
	switch k {
	case "", KindText:
		return KindText, true
	case KindImage:
		return KindImage, true
	}
	return "", false
}

// Client to server event types.
const (
	TypeUserInfo    = "user_info"
	TypeSendMessage = "send_message"
	TypeTyping      = "typing"
)

// Server to client event types.
const (
	TypeSession             = "session"
	TypeChatStarted         = "chat_started"
	TypeReceiveMessage      = "receive_message"
	TypePartnerTyping       = "partner_typing"
	TypePartnerDisconnected = "partner_disconnected"
	TypeError               = "error"
)

// Envelope is the JSON structure sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// UserInfo registers (or re-registers) the sender and triggers a match
// attempt.
type UserInfo struct {
	Interests []string `json:"interests"`
}

// SendMessage is a chat message posted to a room.
type SendMessage struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Type     Kind   `json:"type"`
	ImageURL string `json:"imageUrl,omitempty"`
	// TargetLang asks the server to attach a translation of Message.
	TargetLang string `json:"targetLang,omitempty"`
}

// Typing reports the sender's typing status.
type Typing struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// SessionInfo tells a freshly connected client its own id.
type SessionInfo struct {
	ID string `json:"id"`
}

// ChatStarted is sent to both participants when a room is created.
type ChatStarted struct {
	RoomID    string   `json:"roomId"`
	Interests []string `json:"interests"`
}

// ReceiveMessage is a relayed chat message.
type ReceiveMessage struct {
	Sender      string `json:"sender"`
	Message     string `json:"message"`
	Type        Kind   `json:"type"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Translation string `json:"translation,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// PartnerTyping relays the partner's typing status.
type PartnerTyping struct {
	IsTyping bool `json:"isTyping"`
}

// PartnerDisconnected tells the surviving participant the room is gone.
type PartnerDisconnected struct{}

// ErrorPayload reports a malformed client event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Event is a server to client event before encoding.
type Event struct {
	Type    string
	Payload any
}

// Encode marshals the event into an Envelope frame.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: e.Type, Payload: data})
}

// timestampLayout matches JavaScript's Date.prototype.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t as an ISO-8601 UTC timestamp with millisecond
// precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
