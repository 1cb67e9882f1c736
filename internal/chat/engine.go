// Package chat runs the matchmaking and relay state machine.
//
// All session and room state is owned by a single goroutine (Engine.Run)
// that consumes commands from a queue. Handlers never block on I/O:
// outbound events go to a Notifier that must enqueue and return.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/christopherjohns/chatmatch/internal/message"
	"github.com/christopherjohns/chatmatch/internal/metrics"
	"github.com/christopherjohns/chatmatch/internal/room"
	"github.com/christopherjohns/chatmatch/internal/user"
)

// ErrEngineStopped is returned by Submit and Stats once Run has returned.
var ErrEngineStopped = errors.New("chat: engine stopped")

// defaultQueueSize is the command queue capacity.
const defaultQueueSize = 1024

// Notifier delivers a server event to one connection. Implementations
// must not block.
type Notifier interface {
	Notify(connID string, ev message.Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(connID string, ev message.Event)

// Notify calls f(connID, ev).
func (f NotifierFunc) Notify(connID string, ev message.Event) { f(connID, ev) }

// Stats is a point-in-time view of engine state.
type Stats struct {
	Sessions int `json:"sessions"`
	Waiting  int `json:"waiting"`
	Rooms    int `json:"rooms"`
}

// Engine owns the connection registry and rooms.
type Engine struct {
	reg     *user.Registry
	rooms   *room.Manager
	notify  Notifier
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	queueSize int
	cmds      chan Command
	done      chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueueSize sets the command queue capacity.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithMetrics sets the collectors the engine reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine that stores rooms in rooms and sends events
// through n. Call Run to start processing.
func NewEngine(rooms *room.Manager, n Notifier, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		reg:       user.NewRegistry(),
		rooms:     rooms,
		notify:    n,
		logger:    logger,
		now:       time.Now,
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry())
	}
	e.cmds = make(chan Command, e.queueSize)
	return e
}

// Run processes commands until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.logger.Info("engine started", zap.Int("queue_size", e.queueSize))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped",
				zap.Int("sessions", e.reg.Len()),
				zap.Int("rooms", e.rooms.Len()))
			return nil
		case cmd := <-e.cmds:
			e.dispatch(cmd)
		}
	}
}

// Submit queues cmd. It blocks only while the queue is full.
func (e *Engine) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-e.done:
		return ErrEngineStopped
	default:
	}
	select {
	case e.cmds <- cmd:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a consistent snapshot of the engine state.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	q := statsQuery{reply: make(chan Stats, 1)}
	if err := e.Submit(ctx, q); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-q.reply:
		return s, nil
	case <-e.done:
		return Stats{}, ErrEngineStopped
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// state is a connection's position in the session lifecycle.
type state int

const (
	stateNone state = iota
	stateWaiting
	statePaired
)

func (s state) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case statePaired:
		return "paired"
	}
	return "none"
}

type handler func(e *Engine, cmd Command)

// transitions lists the commands each state accepts. A command with no
// entry for the sender's state is dropped.
//
//	state    register          send_message  typing  disconnect
//	none     scan -> waiting   -             -       no-op
//	waiting  scan -> waiting   -             -       -> none
//	paired   refresh interests relay         relay   -> none, peer -> waiting
var transitions = map[state]map[string]handler{
	stateNone: {
		cmdRegister:   (*Engine).register,
		cmdDisconnect: (*Engine).disconnect,
	},
	stateWaiting: {
		cmdRegister:   (*Engine).register,
		cmdDisconnect: (*Engine).disconnect,
	},
	statePaired: {
		cmdRegister:    (*Engine).refresh,
		cmdSendMessage: (*Engine).relayMessage,
		cmdTyping:      (*Engine).relayTyping,
		cmdDisconnect:  (*Engine).disconnect,
	},
}

func (e *Engine) stateOf(id string) state {
	s, ok := e.reg.Get(id)
	switch {
	case !ok:
		return stateNone
	case s.Matched:
		return statePaired
	default:
		return stateWaiting
	}
}

// dispatch applies one command. It runs only on the Run goroutine.
func (e *Engine) dispatch(cmd Command) {
	if q, ok := cmd.(statsQuery); ok {
		q.reply <- Stats{
			Sessions: e.reg.Len(),
			Waiting:  e.reg.Waiting(),
			Rooms:    e.rooms.Len(),
		}
		return
	}

	st := e.stateOf(cmd.Conn())
	h, ok := transitions[st][cmd.name()]
	if !ok {
		e.logger.Debug("command dropped",
			zap.String("conn_id", cmd.Conn()),
			zap.String("command", cmd.name()),
			zap.Stringer("state", st))
		return
	}
	h(e, cmd)
	e.metrics.WaitingSessions.Set(float64(e.reg.Waiting()))
	e.metrics.ActiveRooms.Set(float64(e.rooms.Len()))
}
