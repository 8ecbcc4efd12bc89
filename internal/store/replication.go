package store

import (
	"log/slog"

	"github.com/maruel/statestore/internal/bus"
)

// receive applies a message from another replica.
//
// The namespace root is replaced wholesale, last write wins. The medium is
// left alone since the sender already wrote it, and nothing is rebroadcast.
func (r *Runtime) receive(msg bus.Message) {
	if msg.Origin == r.origin || msg.Namespace == "" {
		return
	}
	r.received.Add(1)
	var next Snapshot
	switch msg.Kind {
	case bus.KindSet:
		next = Snapshot{Value: msg.Value, Present: true}
	case bus.KindDelete:
	default:
		slog.Warn("Ignoring message", "namespace", msg.Namespace, "kind", msg.Kind, "id", msg.ID)
		return
	}
	r.mu.Lock()
	prev, ok := r.mirror.get(msg.Namespace)
	old := Snapshot{Value: prev, Present: ok}
	if next.Present {
		r.mirror.set(msg.Namespace, next.Value)
	} else {
		r.mirror.invalidate(msg.Namespace)
	}
	fns := r.registry.collectNamespace(msg.Namespace, old, next)
	r.mu.Unlock()
	run(fns)
}
