package wordimpact

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Event Listener Registry
// ============================================================================

// Listener receives realtime events. Type-switch on ev to read the payload.
type Listener func(ev Event)

// Subscription identifies one registration made with On. Registering the
// same function twice yields two subscriptions and two deliveries.
type Subscription struct {
	Event string
	id    uint64
	reg   *Registry
}

// Cancel removes the registration. Safe to call more than once.
func (s Subscription) Cancel() {
	if s.reg != nil {
		s.reg.Off(s)
	}
}

type registration struct {
	id       uint64
	listener Listener
}

// Registry fans named events out to independent listeners.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string][]registration
	nextID    atomic.Uint64
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		listeners: make(map[string][]registration),
		logger:    logger,
	}
}

// On registers listener for event and returns its subscription. Each On
// must be paired with an Off (or Subscription.Cancel) by its owner.
func (r *Registry) On(event string, listener Listener) Subscription {
	id := r.nextID.Add(1)
	r.mu.Lock()
	r.listeners[event] = append(r.listeners[event], registration{id: id, listener: listener})
	r.mu.Unlock()
	return Subscription{Event: event, id: id, reg: r}
}

// Off removes exactly the given subscription; no-op if it is not present.
func (r *Registry) Off(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.listeners[sub.Event]
	for i, reg := range regs {
		if reg.id != sub.id {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(r.listeners, sub.Event)
		} else {
			r.listeners[sub.Event] = next
		}
		return
	}
}

// Len returns the number of listeners registered for event.
func (r *Registry) Len(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[event])
}

// emit delivers ev to every listener of event synchronously, in
// registration order. A panicking listener is logged and skipped.
func (r *Registry) emit(event string, ev Event) {
	r.mu.RLock()
	regs := r.listeners[event]
	r.mu.RUnlock()

	for _, reg := range regs {
		r.invoke(event, reg, ev)
	}
}

func (r *Registry) invoke(event string, reg registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("realtime listener panicked",
				"event", event,
				"listener", reg.id,
				"panic", fmt.Sprint(p),
			)
		}
	}()
	reg.listener(ev)
}
