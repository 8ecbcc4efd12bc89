package store

import (
	"cmp"
	"slices"
	"sync"

	"github.com/maruel/statestore/internal/keypath"
)

// notifyOptions trims the propagation passes of a notification.
type notifyOptions struct {
	// skipRoot disables the ancestor pass.
	skipRoot bool
	// skipChildren disables the descendant pass.
	skipChildren bool
}

type listener struct {
	seq uint64
	fn  func()
}

// registry is the listener table keyed by full key.
//
// Lists are replaced, never modified in place, so a slice handed out by
// collect stays valid after the lock is released.
type registry struct {
	mu   sync.Mutex
	seq  uint64
	keys map[string][]*listener
}

func newRegistry() *registry {
	return &registry{keys: make(map[string][]*listener)}
}

// subscribe registers fn at key. The returned function removes it and drops
// the key once its last listener is gone. Calling it more than once is a
// no-op.
func (g *registry) subscribe(key string, fn func()) func() {
	g.mu.Lock()
	g.seq++
	l := &listener{seq: g.seq, fn: fn}
	g.keys[key] = append(slices.Clip(g.keys[key]), l)
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		list := g.keys[key]
		i := slices.Index(list, l)
		if i < 0 {
			return
		}
		if len(list) == 1 {
			delete(g.keys, key)
			return
		}
		g.keys[key] = slices.Delete(slices.Clone(list), i, i+1)
	}
}

// collect returns the listeners to run after the value at key changed from
// old to next.
//
// Listeners registered exactly at key always run. Unless skipped, listeners at
// the namespace and at the two-segment root key run too, then listeners below
// key whose own sub-value differs between old and next, in registration
// order. Each listener is returned at most once.
func (g *registry) collect(key string, old, next Snapshot, opts notifyOptions) []func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	var c collector
	c.add(g.keys[key])
	if !opts.skipRoot {
		ns, _ := keypath.SplitKey(key)
		for _, k := range [...]string{ns, keypath.RootKey(key)} {
			if k != key {
				c.add(g.keys[k])
			}
		}
	}
	if !opts.skipChildren {
		c.add(g.changedBelow(key, old, next))
	}
	return c.fns
}

// collectNamespace returns the listeners to run after a namespace root was
// replaced by a remote replica: every listener at the namespace itself, and
// listeners below it whose sub-value changed.
func (g *registry) collectNamespace(namespace string, old, next Snapshot) []func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	var c collector
	c.add(g.keys[namespace])
	c.add(g.changedBelow(namespace, old, next))
	return c.fns
}

func (g *registry) changedBelow(key string, old, next Snapshot) []*listener {
	var out []*listener
	for k, list := range g.keys {
		rel, ok := keypath.IsDescendant(key, k)
		if !ok {
			continue
		}
		p := keypath.Parse(rel)
		if !old.at(p).same(next.at(p)) {
			out = append(out, list...)
		}
	}
	slices.SortFunc(out, func(a, b *listener) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// counts returns the number of keys and listeners.
func (g *registry) counts() (keys, listeners int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, list := range g.keys {
		listeners += len(list)
	}
	return len(g.keys), listeners
}

type collector struct {
	seen map[*listener]struct{}
	fns  []func()
}

func (c *collector) add(list []*listener) {
	for _, l := range list {
		if c.seen == nil {
			c.seen = make(map[*listener]struct{})
		}
		if _, dup := c.seen[l]; dup {
			continue
		}
		c.seen[l] = struct{}{}
		c.fns = append(c.fns, l.fn)
	}
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
