package chat

import (
	"go.uber.org/zap"

	"github.com/christopherjohns/chatmatch/internal/match"
	"github.com/christopherjohns/chatmatch/internal/message"
)

// register stores the profile and runs a first-fit scan for a partner.
func (e *Engine) register(cmd Command) {
	c := cmd.(Register)
	e.metrics.Registrations.Inc()

	s, replaced := e.reg.Register(c.ConnID, c.Interests)
	if replaced {
		e.logger.Warn("duplicate registration, previous profile replaced",
			zap.String("conn_id", c.ConnID))
	}

	p, ok, err := match.Pair(e.reg, e.rooms, c.ConnID)
	if err != nil {
		// Room ids are random UUIDs; a collision means the id source is
		// broken. The session stays waiting.
		e.logger.Error("room allocation failed", zap.String("conn_id", c.ConnID), zap.Error(err))
		return
	}
	if !ok {
		e.metrics.MatchMisses.Inc()
		e.logger.Debug("no match found",
			zap.String("conn_id", c.ConnID),
			zap.Strings("interests", s.Interests))
		return
	}

	e.metrics.Matches.Inc()
	e.logger.Info("match found",
		zap.String("room_id", p.Room.ID),
		zap.String("requester", p.Requester),
		zap.String("partner", p.Partner))

	ev := message.Event{
		Type: message.TypeChatStarted,
		Payload: message.ChatStarted{
			RoomID:    p.Room.ID,
			Interests: p.Interests,
		},
	}
	for _, id := range p.Room.Participants {
		e.notify.Notify(id, ev)
	}
}

// refresh handles user_info from a connection that is already paired. The
// interests are replaced but the session keeps its room, so matched stays
// true and no new scan happens.
func (e *Engine) refresh(cmd Command) {
	c := cmd.(Register)
	e.metrics.Registrations.Inc()

	s, _ := e.reg.Register(c.ConnID, c.Interests)
	s.Matched = true
	e.logger.Warn("registration while paired, interests updated",
		zap.String("conn_id", c.ConnID))
}
