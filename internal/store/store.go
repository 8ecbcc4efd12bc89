package store

import (
	apierrors "github.com/maruel/statestore/internal/errors"
	"github.com/maruel/statestore/internal/keypath"
)

// Get returns the value at path in namespace. An empty path returns the whole
// document. The result is shared with the store and must not be modified.
func (r *Runtime) Get(namespace, path string) (any, bool) {
	s := r.root(namespace).at(keypath.Parse(path))
	return s.Value, s.Present
}

// Has reports whether namespace holds a document, in memory or durably.
func (r *Runtime) Has(namespace string) bool {
	return r.root(namespace).Present
}

// Set stores value at path in namespace, creating intermediate containers as
// needed. Storing a value deep-equal to the current one does nothing.
//
// The value is converted to its JSON form first. The only error returned is
// an INVALID_VALUE StoreError, when that conversion fails or when an index
// would grow an array by more than keypath.MaxArrayGap slots. Persistence and
// replication problems are logged, never returned.
func (r *Runtime) Set(namespace, path string, value any) error {
	v, err := keypath.Normalize(value)
	if err != nil {
		return apierrors.Invalid(namespace, err)
	}
	return r.write(namespace, keypath.Parse(path), Snapshot{Value: v, Present: true}, false)
}

// Delete removes the value at path: an object key disappears, an array
// element is spliced out. An empty path removes the whole namespace, durable
// copy included. Deleting something absent does nothing.
func (r *Runtime) Delete(namespace, path string) {
	_ = r.write(namespace, keypath.Parse(path), Snapshot{}, false)
}

// Subscribe calls fn after every change affecting path in namespace. It
// returns a function that cancels the subscription.
func (r *Runtime) Subscribe(namespace, path string, fn func()) func() {
	return r.registry.subscribe(keypath.JoinKey(namespace, path), fn)
}

// Notify calls the listeners registered exactly at path, without any
// propagation, as if the value had changed.
func (r *Runtime) Notify(namespace, path string) {
	s := r.root(namespace).at(keypath.Parse(path))
	run(r.registry.collect(keypath.JoinKey(namespace, path), s, s, notifyOptions{skipRoot: true, skipChildren: true}))
}

// write is the common path of Set and Delete. An absent next deletes, which
// never fails.
func (r *Runtime) write(namespace string, p keypath.Path, next Snapshot, memoryOnly bool) error {
	r.mu.Lock()
	root := r.load(namespace)
	cur := root.at(p)
	if cur.same(next) {
		r.mu.Unlock()
		return nil
	}
	var updated Snapshot
	switch {
	case next.Present:
		v, err := keypath.Set(root.Value, p, next.Value)
		if err != nil {
			r.mu.Unlock()
			return apierrors.Invalid(namespace, err)
		}
		updated = Snapshot{Value: v, Present: true}
	case p.IsRoot():
	default:
		v, _ := keypath.Delete(root.Value, p)
		updated = Snapshot{Value: v, Present: true}
	}
	r.commit(namespace, updated, memoryOnly)
	fns := r.registry.collect(keypath.JoinKey(namespace, p.String()), cur, next, notifyOptions{})
	r.mu.Unlock()
	run(fns)
	return nil
}
