package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/lumimeds/realtime/internal/common/cnst"
	"github.com/lumimeds/realtime/internal/transport"
)

// Handler consumes the raw JSON payload of one event.
type Handler func(data []byte)

// Session is the slice of the session manager the router needs.
type Session interface {
	Send(ctx context.Context, env *transport.Envelope) error
	SetSink(sink func(env *transport.Envelope))
	Connected() bool
}

// registration pairs a handler with its identity key.
type registration struct {
	key uintptr
	fn  Handler
}

// Router is a typed subscribe/unsubscribe registry over one session. Its
// single correctness property is that a given (event, handler) pair is
// registered at most once, so handlers are never invoked twice for one
// delivery regardless of how many times subscription code re-runs across
// reconnects.
type Router struct {
	session Session
	logger  *zap.Logger

	mu       sync.Mutex
	handlers map[string][]registration
}

// New builds a router and installs it as the session's event sink.
func New(sess Session, logger *zap.Logger) *Router {
	r := &Router{
		session:  sess,
		logger:   logger.Named("router"),
		handlers: make(map[string][]registration),
	}
	sess.SetSink(r.dispatch)
	return r
}

// On registers a handler for an event. Registering the same (event,
// handler) pair again is a no-op, not a second registration. Handler
// identity is the function's code pointer, so re-created closures over the
// same body count as the same handler, which is what subscription code
// re-running after a reconnect produces. Method values on different
// receivers share a code pointer; register per-receiver wrappers if that
// distinction ever matters.
func (r *Router) On(event string, fn Handler) {
	if fn == nil {
		return
	}
	key := reflect.ValueOf(fn).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.handlers[event] {
		if reg.key == key {
			return
		}
	}
	r.handlers[event] = append(r.handlers[event], registration{key: key, fn: fn})
}

// Off removes one handler for an event, or every handler for the event
// when fn is nil.
func (r *Router) Off(event string, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn == nil {
		delete(r.handlers, event)
		return
	}

	key := reflect.ValueOf(fn).Pointer()
	regs := r.handlers[event]
	for i, reg := range regs {
		if reg.key == key {
			r.handlers[event] = append(regs[:i], regs[i+1:]...)
			break
		}
	}
	if len(r.handlers[event]) == 0 {
		delete(r.handlers, event)
	}
}

// Emit sends an event to the server. When the session is not connected the
// event is dropped, not queued: client-to-server emission is at-most-once
// in this system.
func (r *Router) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	err = r.session.Send(ctx, &transport.Envelope{Event: event, Data: data})
	if errors.Is(err, cnst.ErrNotConnected) {
		r.logger.Debug("emit while disconnected, dropping", zap.String("event", event))
		return nil
	}
	return err
}

// dispatch fans one inbound event out to its registered handlers.
func (r *Router) dispatch(env *transport.Envelope) {
	r.mu.Lock()
	regs := make([]registration, len(r.handlers[env.Event]))
	copy(regs, r.handlers[env.Event])
	r.mu.Unlock()

	for _, reg := range regs {
		reg.fn(env.Data)
	}
}
