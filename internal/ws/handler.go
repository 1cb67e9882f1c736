package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/chatmatch/internal/chat"
	"github.com/christopherjohns/chatmatch/internal/message"
	"github.com/christopherjohns/chatmatch/internal/metrics"
)

// Submitter accepts commands for the chat engine.
type Submitter interface {
	Submit(ctx context.Context, cmd chat.Command) error
}

// Translator produces a translation of text into targetLang.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Limiter decides whether a client address may open another connection.
type Limiter interface {
	Allow(key string) bool
}

// Handler handles WebSocket upgrade requests and client message loops.
type Handler struct {
	hub            *Hub
	engine         Submitter
	logger         *zap.Logger
	limiter        Limiter
	translator     Translator
	originPatterns []string
	metrics        *metrics.Metrics
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLimiter rejects connection attempts the limiter does not allow.
func WithLimiter(l Limiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithTranslator enables translation of text messages that carry a
// targetLang.
func WithTranslator(t Translator) HandlerOption {
	return func(h *Handler) {
		h.translator = t
	}
}

// WithOriginPatterns restricts cross-origin upgrades to the given host
// patterns. With no patterns only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) {
		h.originPatterns = patterns
	}
}

// WithHandlerMetrics counts rate limited connections and translation
// attempts in m.
func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new WebSocket Handler.
func NewHandler(hub *Hub, engine Submitter, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub:    hub,
		engine: engine,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the HTTP connection to a WebSocket and runs the
// read loop for the client.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		h.logger.Info("connection rate limited", zap.String("remote_addr", r.RemoteAddr))
		if h.metrics != nil {
			h.metrics.RejectedConns.Inc()
		}
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("accept error", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{
		conn: conn,
		id:   generateClientID(),
	}

	connCtx := h.hub.addClient(client)
	if connCtx.Err() != nil {
		return
	}
	logger := h.logger.With(zap.String("conn_id", client.id))
	logger.Debug("client connected")

	defer func() {
		// A disconnect is never dropped. Submit blocks for queue space and
		// fails only once the engine has stopped.
		if err := h.engine.Submit(context.Background(), chat.Disconnect{ConnID: client.id}); err != nil {
			logger.Warn("failed to submit disconnect", zap.Error(err))
		}
		h.hub.removeClient(client)
		logger.Debug("client disconnected")
	}()

	h.hub.Notify(client.id, message.Event{
		Type:    message.TypeSession,
		Payload: message.SessionInfo{ID: client.id},
	})

	h.readLoop(r.Context(), connCtx, client, logger)
}

// readLoop reads messages from the client until the connection closes
// or the connection manager cancels connCtx.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-connCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		// Mark activity so idle reaping doesn't close active connections.
		h.hub.ConnMgr().TouchActivity(client)

		cmd, reason := h.decode(ctx, client.id, data, logger)
		if reason != "" {
			h.sendError(client.id, reason)
			continue
		}
		if err := h.engine.Submit(ctx, cmd); err != nil {
			logger.Warn("failed to submit command", zap.Error(err))
			return
		}
	}
}

// decode turns a client frame into an engine command. A non-empty reason
// means the frame was rejected.
func (h *Handler) decode(ctx context.Context, connID string, data []byte, logger *zap.Logger) (chat.Command, string) {
	var env message.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "invalid JSON"
	}

	switch env.Type {
	case message.TypeUserInfo:
		var p message.UserInfo
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "invalid user_info payload"
		}
		return chat.Register{ConnID: connID, Interests: p.Interests}, ""

	case message.TypeSendMessage:
		var p message.SendMessage
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "invalid send_message payload"
		}
		kind, ok := message.ClientKind(p.Type)
		if !ok {
			return nil, "unsupported message type " + string(p.Type)
		}
		p.Type = kind
		return chat.SendMessage{
			ConnID:      connID,
			RoomID:      p.RoomID,
			Message:     p.Message,
			Kind:        kind,
			ImageURL:    p.ImageURL,
			Translation: h.translate(ctx, p, logger),
		}, ""

	case message.TypeTyping:
		var p message.Typing
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, "invalid typing payload"
		}
		return chat.Typing{ConnID: connID, RoomID: p.RoomID, IsTyping: p.IsTyping}, ""
	}
	return nil, "unknown event type " + env.Type
}

// translate returns the translation requested by p, or "" if none was
// requested or the translator failed. Failures are logged and never
// reach the recipient.
func (h *Handler) translate(ctx context.Context, p message.SendMessage, logger *zap.Logger) string {
	if h.translator == nil || p.TargetLang == "" || p.Message == "" {
		return ""
	}
	if p.Type != message.KindText {
		return ""
	}
	text, err := h.translator.Translate(ctx, p.Message, p.TargetLang)
	if h.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		h.metrics.Translations.WithLabelValues(result).Inc()
	}
	if err != nil {
		logger.Warn("translation failed, relaying untranslated",
			zap.String("target_lang", p.TargetLang),
			zap.Error(err))
		return ""
	}
	return text
}

// sendError queues an error event for the client.
func (h *Handler) sendError(connID, msg string) {
	h.hub.Notify(connID, message.Event{
		Type:    message.TypeError,
		Payload: message.ErrorPayload{Message: msg},
	})
}

// clientIP returns the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func generateClientID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
