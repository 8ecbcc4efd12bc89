// Package store implements a hierarchical, persistent key/value store with
// fine-grained change notification, replicated between live instances.
//
// Every value lives in a namespace. A namespace holds one JSON document,
// addressed with dot-separated paths such as "ui.panels.0.width". Writes
// produce a new document that shares every untouched branch with the
// previous one, so documents returned by Get must be treated as read-only.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/time/rate"

	"github.com/maruel/statestore/internal/bus"
	"github.com/maruel/statestore/internal/medium"
)

// Runtime owns the mirror, the listener registry, the durable medium and the
// replication bus. Build one per process and share it.
type Runtime struct {
	medium medium.Medium
	bus    bus.Bus
	origin ksid.ID

	// mu serializes loads and mutations. Listeners are never called with it
	// held.
	mu       sync.Mutex
	mirror   *mirror
	registry *registry
	volatile map[string]bool

	logLimit        *rate.Limiter
	persistFailures atomic.Int64
	sent            atomic.Int64
	received        atomic.Int64
	cancelBus       func()
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMedium sets the durable medium. Without one, the store is memory-only.
func WithMedium(m medium.Medium) Option {
	return func(r *Runtime) { r.medium = m }
}

// WithBus sets the replication bus. Without one, the runtime never hears
// about other replicas.
func WithBus(b bus.Bus) Option {
	return func(r *Runtime) { r.bus = b }
}

// WithOrigin sets the replica identifier stamped on outgoing messages.
func WithOrigin(id ksid.ID) Option {
	return func(r *Runtime) { r.origin = id }
}

// New returns a Runtime and starts listening on its bus.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		bus:      bus.Nop{},
		mirror:   newMirror(),
		registry: newRegistry(),
		volatile: make(map[string]bool),
		logLimit: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = bus.Nop{}
	}
	if r.origin.IsZero() {
		r.origin = ksid.NewID()
	}
	r.cancelBus = r.bus.Subscribe(r.receive)
	return r
}

// Origin returns the replica identifier.
func (r *Runtime) Origin() ksid.ID {
	return r.origin
}

// Close stops listening on the bus. The bus itself is owned by the caller.
func (r *Runtime) Close() error {
	r.cancelBus()
	return nil
}

// Stats is a read-only view of the runtime internals, for debugging.
type Stats struct {
	Namespaces       []string `json:"namespaces" yaml:"namespaces"`
	ListenerKeys     int      `json:"listener_keys" yaml:"listener_keys"`
	Listeners        int      `json:"listeners" yaml:"listeners"`
	PersistFailures  int64    `json:"persist_failures" yaml:"persist_failures"`
	MessagesSent     int64    `json:"messages_sent" yaml:"messages_sent"`
	MessagesReceived int64    `json:"messages_received" yaml:"messages_received"`
}

// Stats returns the current counters.
func (r *Runtime) Stats() Stats {
	keys, listeners := r.registry.counts()
	return Stats{
		Namespaces:       r.mirror.namespaces(),
		ListenerKeys:     keys,
		Listeners:        listeners,
		PersistFailures:  r.persistFailures.Load(),
		MessagesSent:     r.sent.Load(),
		MessagesReceived: r.received.Load(),
	}
}
