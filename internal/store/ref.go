package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/maruel/statestore/internal/keypath"
)

// Ref is a typed handle on a path inside a Namespace.
//
// Values are converted through their JSON encoding, so T may be a struct with
// json tags, a slice, a map or a scalar.
type Ref[T any] struct {
	ns   *Namespace
	path keypath.Path
}

// NewRef returns a handle on path inside ns.
func NewRef[T any](ns *Namespace, path string) Ref[T] {
	return Ref[T]{ns: ns, path: keypath.Parse(path)}
}

// At returns a handle of another type on path, relative to r.
func At[U, T any](r Ref[T], path string) Ref[U] {
	return Ref[U]{ns: r.ns, path: r.path.Append(keypath.Parse(path)...)}
}

// Path returns the path of the handle inside its namespace.
func (r Ref[T]) Path() string {
	return r.path.String()
}

// Field returns an untyped handle on an object key below r. name must not
// contain a dot.
func (r Ref[T]) Field(name string) Ref[any] {
	return Ref[any]{ns: r.ns, path: r.path.Append(name)}
}

// Index returns an untyped handle on an array element below r.
func (r Ref[T]) Index(i int) Ref[any] {
	return Ref[any]{ns: r.ns, path: r.path.Append(strconv.Itoa(i))}
}

// Get returns the decoded value. ok is false when nothing is stored.
func (r Ref[T]) Get() (T, bool, error) {
	v, ok := r.ns.Get(r.Path())
	if !ok {
		var zero T
		return zero, false, nil
	}
	out, err := decode[T](v)
	if err != nil {
		return out, true, fmt.Errorf("failed to decode %s.%s: %w", r.ns.name, r.Path(), err)
	}
	return out, true, nil
}

// Set stores v.
func (r Ref[T]) Set(v T) error {
	return r.ns.Set(r.Path(), v)
}

// Delete removes the value.
func (r Ref[T]) Delete() {
	r.ns.Delete(r.Path())
}

// Subscribe calls fn with the decoded value after each change. Values that do
// not decode into T are logged and skipped.
func (r Ref[T]) Subscribe(fn func(v T, ok bool)) func() {
	return r.ns.Subscribe(r.Path(), func() {
		v, ok, err := r.Get()
		if err != nil {
			slog.Warn("Skipping change", "namespace", r.ns.name, "path", r.Path(), "err", err)
			return
		}
		fn(v, ok)
	})
}

func decode[T any](v any) (T, error) {
	var out T
	if t, ok := keypath.Clone(v).(T); ok {
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
