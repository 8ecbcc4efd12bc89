// Package bus carries store mutations between replicas.
//
// A replica is one live instance of a store runtime: another process on the
// same device, or another runtime inside the same process. Delivery is best
// effort. A transport that cannot reach anybody is not an error, it simply
// leaves replicas unsynchronized.
package bus

import (
	"errors"

	"github.com/maruel/ksid"
)

// ErrClosed is returned when publishing on a closed transport.
var ErrClosed = errors.New("bus: closed")

// Kind is the mutation carried by a Message.
type Kind string

const (
	// KindSet replaces the namespace root with Message.Value.
	KindSet Kind = "set"
	// KindDelete removes the namespace.
	KindDelete Kind = "delete"
)

// Message is the broadcast payload. Value always holds the entire new root of
// the namespace, never a patch.
type Message struct {
	ID        ksid.ID `json:"id" jsonschema:"description=Unique time ordered message identifier"`
	Origin    ksid.ID `json:"origin" jsonschema:"description=Identifier of the sending replica"`
	Kind      Kind    `json:"kind" jsonschema:"enum=set,enum=delete"`
	Namespace string  `json:"namespace"`
	Value     any     `json:"value,omitempty" jsonschema:"description=New namespace root for set messages"`
}

// Bus publishes messages to the other replicas and hands their messages to
// subscribers. Publish never delivers a message back to the publisher's own
// subscribers.
type Bus interface {
	Publish(msg Message) error
	Subscribe(fn func(Message)) (cancel func())
}

// Nop is the bus of a host without any broadcast mechanism.
type Nop struct{}

// Publish implements Bus.
func (Nop) Publish(Message) error { return nil }

// Subscribe implements Bus.
func (Nop) Subscribe(func(Message)) func() { return func() {} }

// handlers is an ordered subscriber list shared by the transports.
type handlers struct {
	list []*handler
}

type handler struct {
	fn func(Message)
}

func (h *handlers) add(fn func(Message)) *handler {
	e := &handler{fn: fn}
	h.list = append(h.list, e)
	return e
}

func (h *handlers) remove(e *handler) {
	for i, x := range h.list {
		if x == e {
			h.list = append(h.list[:i:i], h.list[i+1:]...)
			return
		}
	}
}

func (h *handlers) snapshot() []*handler {
	return append([]*handler(nil), h.list...)
}
