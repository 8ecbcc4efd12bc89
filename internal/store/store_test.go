package store

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	apierrors "github.com/maruel/statestore/internal/errors"
	"github.com/maruel/statestore/internal/medium"
)

// calls counts listener invocations per name, in order.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) fn(name string) func() {
	return func() {
		c.mu.Lock()
		c.log = append(c.log, name)
		c.mu.Unlock()
	}
}

func (c *calls) take() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.log
	c.log = nil
	return out
}

type failingMedium struct {
	mu     sync.Mutex
	loads  int
	stores int
}

var errBroken = errors.New("disk on fire")

func (f *failingMedium) Load(string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return nil, errBroken
}

func (f *failingMedium) Store(string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	return errBroken
}

func (f *failingMedium) Remove(string) error {
	return errBroken
}

func mustSet(t *testing.T, r *Runtime, ns, path string, v any) {
	t.Helper()
	if err := r.Set(ns, path, v); err != nil {
		t.Fatalf("Set(%q, %q) failed: %v", ns, path, err)
	}
}

func mustGet(t *testing.T, r *Runtime, ns, path string) any {
	t.Helper()
	v, ok := r.Get(ns, path)
	if !ok {
		t.Fatalf("Get(%q, %q) is absent", ns, path)
	}
	return v
}

func TestSetGet(t *testing.T) {
	r := New()
	if _, ok := r.Get("ns", ""); ok {
		t.Fatal("empty namespace must be absent")
	}
	mustSet(t, r, "ns", "a.b", 5)
	if diff := cmp.Diff(map[string]any{"a": map[string]any{"b": 5.0}}, mustGet(t, r, "ns", "")); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
	if got := mustGet(t, r, "ns", "a.b"); got != 5.0 {
		t.Errorf("Get(a.b) = %v", got)
	}
	if _, ok := r.Get("ns", "a.b.c"); ok {
		t.Error("path below a scalar must be absent")
	}
	if !r.Has("ns") || r.Has("other") {
		t.Error("Has mismatch")
	}

	t.Run("struct values are normalized", func(t *testing.T) {
		type point struct {
			X int `json:"x"`
			Y int `json:"y"`
		}
		mustSet(t, r, "ns", "p", point{1, 2})
		if diff := cmp.Diff(map[string]any{"x": 1.0, "y": 2.0}, mustGet(t, r, "ns", "p")); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("caller value is copied", func(t *testing.T) {
		in := map[string]any{"k": "v"}
		mustSet(t, r, "ns", "m", in)
		in["k"] = "changed"
		if got := mustGet(t, r, "ns", "m.k"); got != "v" {
			t.Errorf("store aliases the caller's map: %v", got)
		}
	})
}

func TestSetInvalidValue(t *testing.T) {
	r := New()
	for name, v := range map[string]any{"nan": math.NaN(), "func": func() {}, "chan": make(chan int)} {
		t.Run(name, func(t *testing.T) {
			err := r.Set("ns", "a", v)
			if !errors.Is(err, apierrors.InvalidValue) {
				t.Fatalf("Set: got %v, want INVALID_VALUE", err)
			}
			if r.Has("ns") {
				t.Error("rejected value was stored")
			}
		})
	}
}

func TestIdempotence(t *testing.T) {
	m := medium.NewMemory()
	r := New(WithMedium(m))
	var c calls
	r.Subscribe("ns", "a", c.fn("a"))
	mustSet(t, r, "ns", "a", map[string]any{"x": 1})
	mustSet(t, r, "ns", "a", map[string]any{"x": 1})
	if got := c.take(); len(got) != 1 {
		t.Errorf("listener fired %d times, want 1", len(got))
	}
	if got := r.Stats().MessagesSent; got != 1 {
		t.Errorf("MessagesSent = %d, want 1", got)
	}
	if data, err := m.Load("ns"); err != nil || string(data) != `{"a":{"x":1}}` {
		t.Errorf("durable entry = %q, %v", data, err)
	}
}

func TestImmutability(t *testing.T) {
	r := New()
	mustSet(t, r, "ns", "", map[string]any{
		"a": map[string]any{"b": 1},
		"c": map[string]any{"d": 2},
	})
	oldRoot := mustGet(t, r, "ns", "").(map[string]any)
	mustSet(t, r, "ns", "a.b", 5)
	newRoot := mustGet(t, r, "ns", "").(map[string]any)

	if got := oldRoot["a"].(map[string]any)["b"]; got != 1.0 {
		t.Errorf("old root was modified: a.b = %v", got)
	}
	if reflect.ValueOf(oldRoot).Pointer() == reflect.ValueOf(newRoot).Pointer() {
		t.Error("root was not copied")
	}
	if reflect.ValueOf(oldRoot["c"]).Pointer() != reflect.ValueOf(newRoot["c"]).Pointer() {
		t.Error("untouched branch c was copied")
	}
}

func TestNotification(t *testing.T) {
	t.Run("fine grained", func(t *testing.T) {
		r := New()
		var c calls
		r.Subscribe("ns", "x.y", c.fn("x.y"))
		r.Subscribe("ns", "x.z", c.fn("x.z"))
		r.Subscribe("ns", "x", c.fn("x"))
		r.Subscribe("ns", "", c.fn("ns"))
		r.Subscribe("other", "", c.fn("other"))
		mustSet(t, r, "ns", "x.y", 1)
		if diff := cmp.Diff([]string{"x.y", "ns", "x"}, c.take()); diff != "" {
			t.Errorf("fired (-want +got):\n%s", diff)
		}
	})

	t.Run("deep write wakes root key", func(t *testing.T) {
		r := New()
		var c calls
		r.Subscribe("ns", "x", c.fn("x"))
		r.Subscribe("ns", "x.y", c.fn("x.y"))
		mustSet(t, r, "ns", "x.y.z.w", true)
		if diff := cmp.Diff([]string{"x"}, c.take()); diff != "" {
			t.Errorf("fired (-want +got):\n%s", diff)
		}
	})

	t.Run("descendants fire on change only", func(t *testing.T) {
		r := New()
		mustSet(t, r, "ns", "a", map[string]any{"b": map[string]any{"c": 1}, "d": 1})
		var c calls
		r.Subscribe("ns", "a.d", c.fn("a.d"))
		r.Subscribe("ns", "a.b.c", c.fn("a.b.c"))
		r.Subscribe("ns", "a.e", c.fn("a.e"))
		r.Subscribe("ns", "a.b", c.fn("a.b"))

		mustSet(t, r, "ns", "a", map[string]any{"b": map[string]any{"c": 1}, "d": 2})
		if diff := cmp.Diff([]string{"a.d"}, c.take()); diff != "" {
			t.Errorf("fired (-want +got):\n%s", diff)
		}

		// Descendants come in registration order.
		mustSet(t, r, "ns", "a", map[string]any{"b": map[string]any{"c": 2}, "d": 3})
		if diff := cmp.Diff([]string{"a.d", "a.b.c", "a.b"}, c.take()); diff != "" {
			t.Errorf("fired (-want +got):\n%s", diff)
		}

		// null and absent differ.
		mustSet(t, r, "ns", "a.e", nil)
		if diff := cmp.Diff([]string{"a.e"}, c.take()); diff != "" {
			t.Errorf("fired (-want +got):\n%s", diff)
		}
	})

	t.Run("notify is exact only", func(t *testing.T) {
		r := New()
		var c calls
		r.Subscribe("ns", "a", c.fn("a"))
		r.Subscribe("ns", "a.b", c.fn("a.b"))
		r.Subscribe("ns", "", c.fn("ns"))
		r.Notify("ns", "a")
		if diff := cmp.Diff([]string{"a"}, c.take()); diff != "" {
			t.Errorf("fired (-want +got):\n%s", diff)
		}
	})

	t.Run("each registration fires once", func(t *testing.T) {
		r := New()
		var c calls
		fn := c.fn("shared")
		r.Subscribe("ns", "a", fn)
		r.Subscribe("ns", "a", fn)
		mustSet(t, r, "ns", "a", 1)
		if got := c.take(); len(got) != 2 {
			t.Errorf("fired %d times, want 2", len(got))
		}
	})

	t.Run("listeners may use the store", func(t *testing.T) {
		r := New()
		r.Subscribe("ns", "src", func() {
			v, _ := r.Get("ns", "src")
			if err := r.Set("ns", "dst", v); err != nil {
				t.Errorf("Set from listener failed: %v", err)
			}
		})
		mustSet(t, r, "ns", "src", "x")
		if got := mustGet(t, r, "ns", "dst"); got != "x" {
			t.Errorf("dst = %v", got)
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	r := New()
	var c calls
	un1 := r.Subscribe("ns", "a", c.fn("1"))
	un2 := r.Subscribe("ns", "a", c.fn("2"))
	if s := r.Stats(); s.ListenerKeys != 1 || s.Listeners != 2 {
		t.Fatalf("Stats = %+v", s)
	}
	un1()
	un1()
	mustSet(t, r, "ns", "a", 1)
	if diff := cmp.Diff([]string{"2"}, c.take()); diff != "" {
		t.Errorf("fired (-want +got):\n%s", diff)
	}
	un2()
	if s := r.Stats(); s.ListenerKeys != 0 || s.Listeners != 0 {
		t.Errorf("key not pruned: %+v", s)
	}
	mustSet(t, r, "ns", "a", 2)
	if got := c.take(); len(got) != 0 {
		t.Errorf("canceled listeners fired: %v", got)
	}
}

func TestDelete(t *testing.T) {
	m := medium.NewMemory()
	r := New(WithMedium(m))
	mustSet(t, r, "ns", "", map[string]any{
		"list": []any{10, 20, 30},
		"obj":  map[string]any{"k": 1, "j": 2},
	})

	r.Delete("ns", "list.1")
	if diff := cmp.Diff([]any{10.0, 30.0}, mustGet(t, r, "ns", "list")); diff != "" {
		t.Errorf("splice mismatch (-want +got):\n%s", diff)
	}
	r.Delete("ns", "obj.k")
	if diff := cmp.Diff(map[string]any{"j": 2.0}, mustGet(t, r, "ns", "obj")); diff != "" {
		t.Errorf("key removal mismatch (-want +got):\n%s", diff)
	}

	t.Run("missing path is a no-op", func(t *testing.T) {
		var c calls
		un := r.Subscribe("ns", "nope", c.fn("nope"))
		defer un()
		r.Delete("ns", "nope")
		r.Delete("absent", "x")
		if got := c.take(); len(got) != 0 {
			t.Errorf("fired for a missing path: %v", got)
		}
	})

	t.Run("namespace", func(t *testing.T) {
		var c calls
		un := r.Subscribe("ns", "", c.fn("ns"))
		defer un()
		r.Delete("ns", "")
		if r.Has("ns") {
			t.Error("namespace still present")
		}
		if _, err := m.Load("ns"); !errors.Is(err, medium.ErrNotExist) {
			t.Errorf("durable entry not removed: %v", err)
		}
		if diff := cmp.Diff([]string{"ns"}, c.take()); diff != "" {
			t.Errorf("fired (-want +got):\n%s", diff)
		}
	})
}

func TestLenientWrite(t *testing.T) {
	r := New()
	mustSet(t, r, "ns", "a.0.b", "x")
	want := map[string]any{"a": []any{map[string]any{"b": "x"}}}
	if diff := cmp.Diff(want, mustGet(t, r, "ns", "")); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	mustSet(t, r, "ns", "a.b", 1)
	if diff := cmp.Diff(map[string]any{"a": map[string]any{"b": 1.0}}, mustGet(t, r, "ns", "")); diff != "" {
		t.Errorf("array addressed by key must become an object (-want +got):\n%s", diff)
	}

	t.Run("array gap", func(t *testing.T) {
		r := New()
		mustSet(t, r, "ns", "l", []any{"a"})
		mustSet(t, r, "ns", "l.3", "d")
		if diff := cmp.Diff([]any{"a", nil, nil, "d"}, mustGet(t, r, "ns", "l")); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("huge index", func(t *testing.T) {
		r := New()
		mustSet(t, r, "ns", "l", []any{"a"})
		var c calls
		r.Subscribe("ns", "", c.fn("ns"))
		for _, path := range []string{"l.99999999999999", "x.1000000000", "l.0.5000.b"} {
			err := r.Set("ns", path, "x")
			if !errors.Is(err, apierrors.InvalidValue) {
				t.Errorf("Set(%q): got %v, want INVALID_VALUE", path, err)
			}
		}
		if diff := cmp.Diff(map[string]any{"l": []any{"a"}}, mustGet(t, r, "ns", "")); diff != "" {
			t.Errorf("rejected write changed the document (-want +got):\n%s", diff)
		}
		if got := c.take(); len(got) != 0 {
			t.Errorf("fired: %v", got)
		}
		if got := r.Stats().MessagesSent; got != 1 {
			t.Errorf("MessagesSent = %d, want 1", got)
		}
	})
}

func TestDurability(t *testing.T) {
	m := medium.NewMemory()
	r := New(WithMedium(m))
	mustSet(t, r, "ns", "a", 1)
	mustSet(t, r, "ns", "b.c", "x")

	restarted := New(WithMedium(m))
	if got := mustGet(t, restarted, "ns", "a"); got != 1.0 {
		t.Errorf("Get(a) after restart = %v", got)
	}
	if got := mustGet(t, restarted, "ns", "b.c"); got != "x" {
		t.Errorf("Get(b.c) after restart = %v", got)
	}
}

func TestPersistenceFailures(t *testing.T) {
	t.Run("broken medium", func(t *testing.T) {
		f := &failingMedium{}
		r := New(WithMedium(f))
		mustSet(t, r, "ns", "a", 1)
		if got := mustGet(t, r, "ns", "a"); got != 1.0 {
			t.Errorf("mirror must stay authoritative: %v", got)
		}
		r.Delete("ns", "")
		if f.stores != 1 {
			t.Errorf("stores = %d, want 1", f.stores)
		}
		// One failed load, one failed store and one failed remove.
		if got := r.Stats().PersistFailures; got != 3 {
			t.Errorf("PersistFailures = %d, want 3", got)
		}
	})

	t.Run("malformed data", func(t *testing.T) {
		m := medium.NewMemory()
		if err := m.Store("ns", []byte("{not json")); err != nil {
			t.Fatal(err)
		}
		r := New(WithMedium(m))
		if r.Has("ns") {
			t.Error("malformed data must read as absent")
		}
		n, err := r.Namespace("ns", map[string]any{"theme": "dark"})
		if err != nil {
			t.Fatalf("Namespace failed: %v", err)
		}
		if got, _ := n.Get("theme"); got != "dark" {
			t.Errorf("defaults not applied: %v", got)
		}
		if got := r.Stats().PersistFailures; got != 2 {
			t.Errorf("PersistFailures = %d, want 2", got)
		}
	})

	t.Run("no medium", func(t *testing.T) {
		r := New(WithMedium(nil))
		mustSet(t, r, "ns", "a", 1)
		if got := r.Stats().PersistFailures; got != 0 {
			t.Errorf("PersistFailures = %d, want 0", got)
		}
	})
}

func TestStats(t *testing.T) {
	r := New()
	mustSet(t, r, "b", "x", 1)
	mustSet(t, r, "a", "x", 1)
	r.Subscribe("a", "x", func() {})
	r.Subscribe("a", "y", func() {})
	r.Subscribe("a", "y", func() {})
	want := Stats{Namespaces: []string{"a", "b"}, ListenerKeys: 2, Listeners: 3, MessagesSent: 2}
	if diff := cmp.Diff(want, r.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}
