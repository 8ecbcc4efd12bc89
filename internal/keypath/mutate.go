package keypath

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Resolve descends root along p. It returns false as soon as a segment
// cannot be followed: the current node is nil or a scalar, an object lacks
// the key, or an array is addressed with something that is not an in-range
// index. The root itself is assumed present.
func Resolve(root any, p Path) (any, bool) {
	cur := root
	for _, seg := range p {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, ok := Index(seg)
			if !ok || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// MaxArrayGap is how many slots past its end a write may grow an array by.
const MaxArrayGap = 1024

// ErrIndexRange is returned by Set when an index would grow an array by more
// than MaxArrayGap slots.
var ErrIndexRange = errors.New("keypath: array index out of range")

// Set returns a new document where p holds value.
//
// Only the containers on the way from the root to p are copied; every other
// branch of the result is shared with root. Missing intermediates are created
// as arrays when the following segment is an index and as objects otherwise.
// Writes are lenient: a scalar found mid-path is replaced by a container, an
// array addressed with a non-index segment is replaced by an object, and an
// absent or scalar root becomes an object. Arrays written past their end grow
// and the gap is filled with nil, up to MaxArrayGap slots; further than that
// Set fails with ErrIndexRange and root is left as is.
//
// An empty path returns value itself.
func Set(root any, p Path, value any) (any, error) {
	if len(p) == 0 {
		return value, nil
	}
	switch root.(type) {
	case map[string]any, []any:
		return setIn(root, p, value)
	default:
		return setIn(map[string]any{}, p, value)
	}
}

func setIn(node any, p Path, value any) (any, error) {
	seg := p[0]
	switch n := node.(type) {
	case map[string]any:
		child := value
		if len(p) > 1 {
			var err error
			if child, err = setIn(n[seg], p[1:], value); err != nil {
				return nil, err
			}
		}
		out := make(map[string]any, len(n)+1)
		maps.Copy(out, n)
		out[seg] = child
		return out, nil
	case []any:
		i, ok := Index(seg)
		if !ok {
			return setIn(map[string]any{}, p, value)
		}
		if i-len(n) >= MaxArrayGap {
			return nil, fmt.Errorf("%w: %d past %d elements", ErrIndexRange, i, len(n))
		}
		child := value
		if len(p) > 1 {
			var prev any
			if i < len(n) {
				prev = n[i]
			}
			var err error
			if child, err = setIn(prev, p[1:], value); err != nil {
				return nil, err
			}
		}
		out := make([]any, max(len(n), i+1))
		copy(out, n)
		out[i] = child
		return out, nil
	default:
		if _, ok := Index(seg); ok {
			return setIn([]any{}, p, value)
		}
		return setIn(map[string]any{}, p, value)
	}
}

// Delete returns a new document without the value at p: object keys are
// removed and array elements are spliced out, shifting later indices.
//
// When p does not resolve, root is returned unchanged. An empty path deletes
// the whole document and reports false.
func Delete(root any, p Path) (any, bool) {
	if len(p) == 0 {
		return nil, false
	}
	if _, ok := Resolve(root, p); !ok {
		return root, true
	}
	return deleteIn(root, p), true
}

// deleteIn assumes p resolves in node.
func deleteIn(node any, p Path) any {
	seg := p[0]
	switch n := node.(type) {
	case map[string]any:
		out := maps.Clone(n)
		if len(p) == 1 {
			delete(out, seg)
		} else {
			out[seg] = deleteIn(n[seg], p[1:])
		}
		return out
	case []any:
		i, _ := Index(seg)
		if len(p) == 1 {
			return slices.Delete(slices.Clone(n), i, i+1)
		}
		out := slices.Clone(n)
		out[i] = deleteIn(n[i], p[1:])
		return out
	}
	return node
}
