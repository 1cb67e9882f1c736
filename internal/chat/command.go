package chat

import "github.com/christopherjohns/chatmatch/internal/message"

// Command is an inbound event for the engine. The set of commands is
// closed: Register, SendMessage, Typing and Disconnect.
type Command interface {
	// Conn returns the id of the connection the command came from.
	Conn() string
	name() string
}

// Command names used as columns of the transition table.
const (
	cmdRegister    = "register"
	cmdSendMessage = "send_message"
	cmdTyping      = "typing"
	cmdDisconnect  = "disconnect"
)

// Register submits or replaces a connection's interest profile and asks
// for a partner.
type Register struct {
	ConnID    string
	Interests []string
}

// SendMessage relays a chat message to every participant of a room.
type SendMessage struct {
	ConnID   string
	RoomID   string
	Message  string
	Kind     message.Kind
	ImageURL string
	// Translation is attached by the transport before submission.
	Translation string
}

// Typing relays a typing indicator to the sender's partner.
type Typing struct {
	ConnID   string
	RoomID   string
	IsTyping bool
}

// Disconnect reports that a connection is gone.
type Disconnect struct {
	ConnID string
}

func (c Register) Conn() string    { return c.ConnID }
func (c SendMessage) Conn() string { return c.ConnID }
func (c Typing) Conn() string      { return c.ConnID }
func (c Disconnect) Conn() string  { return c.ConnID }

func (Register) name() string    { return cmdRegister }
func (SendMessage) name() string { return cmdSendMessage }
func (Typing) name() string      { return cmdTyping }
func (Disconnect) name() string  { return cmdDisconnect }

// statsQuery is answered on the engine goroutine so the reply is a
// consistent snapshot.
type statsQuery struct {
	reply chan Stats
}

func (statsQuery) Conn() string { return "" }
func (statsQuery) name() string { return "stats" }
