// Package medium provides the synchronous namespaced byte storage that backs
// the store's durable tier.
//
// A medium holds one serialized document per namespace. It is shared by all
// replicas running on the same device and is never locked across them: the
// last writer wins.
package medium

import "errors"

// ErrNotExist is returned by Load when the namespace has no entry.
var ErrNotExist = errors.New("medium: namespace does not exist")

// Medium is a synchronous namespaced key/value storage. Implementations must
// be safe for concurrent use. Any method may fail; callers decide how to
// degrade.
type Medium interface {
	// Load returns the raw entry for namespace or ErrNotExist.
	Load(namespace string) ([]byte, error)
	// Store replaces the entry for namespace.
	Store(namespace string, data []byte) error
	// Remove deletes the entry for namespace. Removing a missing entry is not
	// an error.
	Remove(namespace string) error
}
