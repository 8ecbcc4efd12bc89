package medium

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Dir stores each namespace as a JSON file in a directory.
//
// File names are "<prefix><escaped namespace>.json". Writes go to a temporary
// file that is renamed over the target so a concurrent reader in another
// process never observes a partial document.
type Dir struct {
	dir    string
	prefix string
}

// NewDir creates the directory if needed and returns a Dir rooted there.
func NewDir(dir, prefix string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &Dir{dir: dir, prefix: prefix}, nil
}

// Path returns the file backing namespace.
func (d *Dir) Path(namespace string) string {
	return filepath.Join(d.dir, d.prefix+url.PathEscape(namespace)+".json")
}

// Load implements Medium.
func (d *Dir) Load(namespace string) ([]byte, error) {
	data, err := os.ReadFile(d.Path(namespace))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("failed to read namespace %s: %w", namespace, err)
	}
	return data, nil
}

// Store implements Medium.
func (d *Dir) Store(namespace string, data []byte) error {
	f, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write namespace %s: %w", namespace, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp, d.Path(namespace)); err != nil {
		return fmt.Errorf("failed to replace namespace %s: %w", namespace, err)
	}
	return nil
}

// Remove implements Medium.
func (d *Dir) Remove(namespace string) error {
	if err := os.Remove(d.Path(namespace)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove namespace %s: %w", namespace, err)
	}
	return nil
}

// Namespaces lists the namespaces that currently have an entry.
func (d *Dir) Namespaces() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, d.prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		ns, err := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(name, d.prefix), ".json"))
		if err != nil {
			continue
		}
		out = append(out, ns)
	}
	return out, nil
}
