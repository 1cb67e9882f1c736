package chat

import (
	"go.uber.org/zap"

	"github.com/christopherjohns/chatmatch/internal/message"
)

// disconnect tears down the connection's room, if any, and forgets the
// session. The surviving peer goes back to waiting; it is not re-matched
// until it registers again. Calling it twice for the same id is a no-op
// the second time.
func (e *Engine) disconnect(cmd Command) {
	id := cmd.Conn()
	st := e.stateOf(id)

	if r, ok := e.rooms.FindByParticipant(id); ok {
		if peer, ok := r.Peer(id); ok {
			e.notify.Notify(peer, message.Event{
				Type:    message.TypePartnerDisconnected,
				Payload: message.PartnerDisconnected{},
			})
			e.reg.SetMatched(peer, false)
		}
		e.rooms.Delete(r.ID)
		e.logger.Info("room closed",
			zap.String("room_id", r.ID),
			zap.String("conn_id", id))
	}

	if e.reg.Unregister(id) {
		e.metrics.Disconnects.WithLabelValues(st.String()).Inc()
		e.logger.Debug("session removed", zap.String("conn_id", id), zap.Stringer("state", st))
	}
}
