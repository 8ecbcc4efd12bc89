package store

import (
	"context"
	"maps"
	"sync"

	apierrors "github.com/maruel/statestore/internal/errors"
	"github.com/maruel/statestore/internal/keypath"
)

// Namespace is a Runtime bound to one namespace, with a default document.
type Namespace struct {
	rt         *Runtime
	name       string
	defaults   any
	memoryOnly bool
}

// NamespaceOption configures a Namespace.
type NamespaceOption func(*Namespace)

// MemoryOnly keeps the namespace out of the durable medium and off the bus.
// Its content is lost when the process exits and other replicas never see it.
//
// The marking belongs to the name and lasts as long as the Runtime: writes
// through Runtime.Set and Runtime.Delete, and later bindings of the same name
// without MemoryOnly, stay in memory too.
func MemoryOnly() NamespaceOption {
	return func(n *Namespace) { n.memoryOnly = true }
}

// Namespace binds name, merging defaults under the document recovered from
// the medium: when both are objects, recovered top-level keys win and missing
// ones are filled from defaults. Otherwise a recovered document wins as a
// whole. The merge only touches the mirror and notifies nobody.
func (r *Runtime) Namespace(name string, defaults any, opts ...NamespaceOption) (*Namespace, error) {
	d, err := keypath.Normalize(defaults)
	if err != nil {
		return nil, apierrors.Invalid(name, err)
	}
	n := &Namespace{rt: r, name: name, defaults: d}
	for _, opt := range opts {
		opt(n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.memoryOnly {
		r.volatile[name] = true
	}
	cur := r.load(name)
	if merged, ok := mergeDefaults(d, cur); ok {
		r.mirror.set(name, merged)
	}
	return n, nil
}

// mergeDefaults returns the document to install, if it differs from cur.
func mergeDefaults(defaults any, cur Snapshot) (any, bool) {
	if !cur.Present {
		return defaults, defaults != nil
	}
	dm, ok1 := defaults.(map[string]any)
	cm, ok2 := cur.Value.(map[string]any)
	if !ok1 || !ok2 {
		return nil, false
	}
	merged := maps.Clone(cm)
	changed := false
	for k, v := range dm {
		if _, ok := merged[k]; !ok {
			merged[k] = v
			changed = true
		}
	}
	return merged, changed
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// Value returns the whole document.
func (n *Namespace) Value() (any, bool) {
	return n.rt.Get(n.name, "")
}

// Get is Runtime.Get bound to the namespace.
func (n *Namespace) Get(path string) (any, bool) {
	return n.rt.Get(n.name, path)
}

// Set is Runtime.Set bound to the namespace.
func (n *Namespace) Set(path string, value any) error {
	v, err := keypath.Normalize(value)
	if err != nil {
		return apierrors.Invalid(n.name, err)
	}
	return n.rt.write(n.name, keypath.Parse(path), Snapshot{Value: v, Present: true}, n.memoryOnly)
}

// Delete is Runtime.Delete bound to the namespace.
func (n *Namespace) Delete(path string) {
	_ = n.rt.write(n.name, keypath.Parse(path), Snapshot{}, n.memoryOnly)
}

// Reset replaces the whole document with the defaults.
func (n *Namespace) Reset() {
	if n.defaults == nil {
		n.Delete("")
		return
	}
	_ = n.rt.write(n.name, nil, Snapshot{Value: keypath.Clone(n.defaults), Present: true}, n.memoryOnly)
}

// Subscribe is Runtime.Subscribe bound to the namespace.
func (n *Namespace) Subscribe(path string, fn func()) func() {
	return n.rt.Subscribe(n.name, path, fn)
}

// Notify is Runtime.Notify bound to the namespace.
func (n *Namespace) Notify(path string) {
	n.rt.Notify(n.name, path)
}

// SubscribeValue calls fn with the value at path after each change.
func (n *Namespace) SubscribeValue(path string, fn func(value any, ok bool)) func() {
	return n.Subscribe(path, func() {
		fn(n.Get(path))
	})
}

// Watch returns a channel receiving the value at path, first the current one,
// then after each change. A slow reader only gets the latest value. The
// channel is closed once ctx is done.
//
// The subscription and its goroutine live until then: with a context that is
// never cancelled, such as context.Background(), they last as long as the
// process.
func (n *Namespace) Watch(ctx context.Context, path string) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	var mu sync.Mutex
	closed := false
	send := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		v, ok := n.Get(path)
		select {
		case <-ch:
		default:
		}
		ch <- Snapshot{Value: v, Present: ok}
	}
	unsubscribe := n.Subscribe(path, send)
	send()
	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
