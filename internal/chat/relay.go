package chat

import (
	"go.uber.org/zap"

	"github.com/christopherjohns/chatmatch/internal/message"
	"github.com/christopherjohns/chatmatch/internal/room"
)

// memberRoom returns the room if the sender belongs to it.
func (e *Engine) memberRoom(roomID, senderID string) (*room.Room, bool) {
	r, ok := e.rooms.Get(roomID)
	if !ok || !r.Has(senderID) {
		return nil, false
	}
	return r, true
}

// relayMessage sends the message, stamped with the server time, to both
// participants. The sender gets its own copy back.
func (e *Engine) relayMessage(cmd Command) {
	c := cmd.(SendMessage)
	r, ok := e.memberRoom(c.RoomID, c.ConnID)
	if !ok {
		e.logger.Debug("message for foreign room dropped",
			zap.String("conn_id", c.ConnID),
			zap.String("room_id", c.RoomID))
		return
	}

	kind, ok := message.ClientKind(c.Kind)
	if !ok {
		e.logger.Debug("message with unsupported kind dropped",
			zap.String("conn_id", c.ConnID),
			zap.String("kind", string(c.Kind)))
		return
	}
	ev := message.Event{
		Type: message.TypeReceiveMessage,
		Payload: message.ReceiveMessage{
			Sender:      c.ConnID,
			Message:     c.Message,
			Type:        kind,
			ImageURL:    c.ImageURL,
			Translation: c.Translation,
			Timestamp:   message.Timestamp(e.now()),
		},
	}
	for _, id := range r.Participants {
		e.notify.Notify(id, ev)
	}
	e.metrics.MessagesRelayed.WithLabelValues(string(kind)).Inc()
}

// relayTyping forwards the indicator to the partner only.
func (e *Engine) relayTyping(cmd Command) {
	c := cmd.(Typing)
	r, ok := e.memberRoom(c.RoomID, c.ConnID)
	if !ok {
		return
	}
	peer, _ := r.Peer(c.ConnID)
	e.notify.Notify(peer, message.Event{
		Type:    message.TypePartnerTyping,
		Payload: message.PartnerTyping{IsTyping: c.IsTyping},
	})
	e.metrics.TypingRelayed.Inc()
}
