package store

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/maruel/ksid"

	"github.com/maruel/statestore/internal/bus"
	apierrors "github.com/maruel/statestore/internal/errors"
	"github.com/maruel/statestore/internal/keypath"
	"github.com/maruel/statestore/internal/medium"
)

// Snapshot is a value read from the store. Present is false when nothing is
// stored at the path.
type Snapshot struct {
	Value   any  `json:"value,omitempty"`
	Present bool `json:"present"`
}

func (s Snapshot) at(p keypath.Path) Snapshot {
	if !s.Present {
		return Snapshot{}
	}
	v, ok := keypath.Resolve(s.Value, p)
	return Snapshot{Value: v, Present: ok}
}

func (s Snapshot) same(o Snapshot) bool {
	if s.Present != o.Present {
		return false
	}
	return !s.Present || keypath.Equal(s.Value, o.Value)
}

// load returns the root of a namespace, seeding the mirror from the medium on
// a miss. Unreadable or malformed durable data counts as absent.
//
// r.mu must be held.
func (r *Runtime) load(namespace string) Snapshot {
	if root, ok := r.mirror.get(namespace); ok {
		return Snapshot{Value: root, Present: true}
	}
	if r.medium == nil || r.volatile[namespace] {
		return Snapshot{}
	}
	data, err := r.medium.Load(namespace)
	if err != nil {
		if !errors.Is(err, medium.ErrNotExist) {
			r.failed(apierrors.PersistReadFailed(namespace, err))
		}
		return Snapshot{}
	}
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		r.failed(apierrors.Malformed(namespace, err))
		return Snapshot{}
	}
	r.mirror.set(namespace, root)
	return Snapshot{Value: root, Present: true}
}

// root returns the root of a namespace, taking the lock only on a mirror miss.
func (r *Runtime) root(namespace string) Snapshot {
	if root, ok := r.mirror.get(namespace); ok {
		return Snapshot{Value: root, Present: true}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(namespace)
}

// commit installs a new namespace root in the mirror. Unless memoryOnly, it
// then writes it to the medium and broadcasts it.
//
// r.mu must be held.
func (r *Runtime) commit(namespace string, root Snapshot, memoryOnly bool) {
	if root.Present {
		r.mirror.set(namespace, root.Value)
	} else {
		r.mirror.invalidate(namespace)
	}
	if memoryOnly || r.volatile[namespace] {
		return
	}
	r.persist(namespace, root)
	msg := bus.Message{ID: ksid.NewID(), Origin: r.origin, Kind: bus.KindSet, Namespace: namespace, Value: root.Value}
	if !root.Present {
		msg.Kind = bus.KindDelete
	}
	if err := r.bus.Publish(msg); err != nil {
		r.logFailure(apierrors.ReplicationFailed(namespace, err))
		return
	}
	r.sent.Add(1)
}

func (r *Runtime) persist(namespace string, root Snapshot) {
	if r.medium == nil {
		return
	}
	if !root.Present {
		if err := r.medium.Remove(namespace); err != nil {
			r.failed(apierrors.PersistWriteFailed(namespace, err))
		}
		return
	}
	data, err := json.Marshal(root.Value)
	if err != nil {
		r.failed(apierrors.PersistWriteFailed(namespace, err))
		return
	}
	if err := r.medium.Store(namespace, data); err != nil {
		r.failed(apierrors.PersistWriteFailed(namespace, err))
	}
}

// failed records a persistence failure. The mirror stays authoritative.
func (r *Runtime) failed(err *apierrors.StoreError) {
	r.persistFailures.Add(1)
	r.logFailure(err)
}

func (r *Runtime) logFailure(err *apierrors.StoreError) {
	if !r.logLimit.Allow() {
		return
	}
	msg := "Store degraded"
	switch {
	case errors.Is(err, apierrors.MalformedData):
		msg = "Ignoring malformed namespace"
	case errors.Is(err, apierrors.PersistRead), errors.Is(err, apierrors.PersistWrite):
		msg = "Medium unavailable, keeping namespace in memory"
	case errors.Is(err, apierrors.Replication):
		msg = "Broadcast failed"
	}
	slog.Warn(msg, "namespace", err.Namespace(), "code", err.Code(), "err", err)
}
