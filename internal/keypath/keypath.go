// Package keypath addresses values inside nested JSON documents with
// dot-separated paths and updates them without mutating the input.
//
// Documents use the encoding/json model: map[string]any, []any, float64,
// string, bool and nil. A missing value is reported through a boolean rather
// than a sentinel so that JSON null stays a regular value.
package keypath

import (
	"strconv"
	"strings"
)

// Path is a parsed dot-separated path. The zero value addresses the root.
type Path []string

// Parse splits s on dots. The empty string yields the root path.
func Parse(s string) Path {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// String joins the segments back with dots.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// IsRoot reports whether p addresses the document root.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Append returns a new path with segs added. p is left untouched.
func (p Path) Append(segs ...string) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// Index parses seg as an array index. Only canonical non-negative decimal
// integers are accepted: "3" is an index, "03", "-1" and "x" are not.
func Index(seg string) (int, bool) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

// JoinKey flattens a namespace and a path into a full key. An empty path
// yields the namespace alone.
func JoinKey(namespace, path string) string {
	if path == "" {
		return namespace
	}
	return namespace + "." + path
}

// SplitKey is the inverse of JoinKey: the namespace is everything before the
// first dot.
func SplitKey(key string) (namespace, path string) {
	namespace, path, _ = strings.Cut(key, ".")
	return namespace, path
}

// RootKey returns the first two segments of key, e.g. "ns.a.b" => "ns.a".
func RootKey(key string) string {
	i := strings.IndexByte(key, '.')
	if i < 0 {
		return key
	}
	if j := strings.IndexByte(key[i+1:], '.'); j >= 0 {
		return key[:i+1+j]
	}
	return key
}

// IsDescendant reports whether key lies strictly below parent and returns
// the path relative to parent.
func IsDescendant(parent, key string) (string, bool) {
	if len(key) <= len(parent)+1 || !strings.HasPrefix(key, parent) || key[len(parent)] != '.' {
		return "", false
	}
	return key[len(parent)+1:], true
}
