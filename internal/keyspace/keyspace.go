// Package keyspace parses and builds the hierarchical keys of a flat record.
//
// A key is "s:<kind>:<path>" where kind is r (push), b (build) or l (log)
// and path is the colon-joined chain of identifiers from the tree root to
// the node. The root push key is exactly "s:r".
package keyspace

import (
	"fmt"
	"strings"
)

const (
	sep    = ":"
	marker = "s"

	// RootPushKey identifies the top-level push of every flat record.
	RootPushKey = "s:r"
)

// Kind is the node type encoded in a key.
type Kind int

const (
	KindUnknown Kind = iota
	KindRevision
	KindBuild
	KindLog
)

func (k Kind) String() string {
	switch k {
	case KindRevision:
		return "r"
	case KindBuild:
		return "b"
	case KindLog:
		return "l"
	default:
		return "?"
	}
}

func kindOf(s string) Kind {
	switch s {
	case "r":
		return KindRevision
	case "b":
		return KindBuild
	case "l":
		return KindLog
	default:
		return KindUnknown
	}
}

// FormatError signals a key that does not follow the key grammar.
type FormatError struct {
	Key    string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed key %q: %s", e.Key, e.Reason)
}

// Key is a decoded flat-record key.
type Key struct {
	Kind Kind
	Path []string
}

// Segments is the number of colon-separated segments, marker and kind included.
func (k Key) Segments() int {
	return len(k.Path) + 2
}

// Depth is the nesting depth of a push key; the root push is depth 0.
func (k Key) Depth() int {
	return len(k.Path)
}

// TopLevel reports whether the key has exactly two segments.
func (k Key) TopLevel() bool {
	return len(k.Path) == 0
}

func (k Key) String() string {
	return join(k.Kind, k.Path)
}

// Decode parses a raw key.
func Decode(raw string) (Key, error) {
	parts := strings.Split(raw, sep)
	if len(parts) < 2 {
		return Key{}, &FormatError{Key: raw, Reason: "fewer than two segments"}
	}
	if parts[0] != marker {
		return Key{}, &FormatError{Key: raw, Reason: "missing leading " + marker + " marker"}
	}
	kind := kindOf(parts[1])
	if kind == KindUnknown {
		return Key{}, &FormatError{Key: raw, Reason: "unknown kind " + parts[1]}
	}
	path := parts[2:]
	if kind != KindRevision && len(path) == 0 {
		return Key{}, &FormatError{Key: raw, Reason: "build and log keys need a path"}
	}
	for _, seg := range path {
		if seg == "" {
			return Key{}, &FormatError{Key: raw, Reason: "empty path segment"}
		}
	}
	return Key{Kind: kind, Path: path}, nil
}

// OwningPushKeyOf derives the key of the push that owns a build.
func OwningPushKeyOf(buildKey string) (string, error) {
	k, err := decodeAs(buildKey, KindBuild)
	if err != nil {
		return "", err
	}
	return join(KindRevision, k.Path[:len(k.Path)-1]), nil
}

// LogKeyOf derives the key of the processed log of a build.
func LogKeyOf(buildKey string) (string, error) {
	k, err := decodeAs(buildKey, KindBuild)
	if err != nil {
		return "", err
	}
	return join(KindLog, k.Path), nil
}

// BuildKeyOf derives the build key a log belongs to.
func BuildKeyOf(logKey string) (string, error) {
	k, err := decodeAs(logKey, KindLog)
	if err != nil {
		return "", err
	}
	return join(KindBuild, k.Path), nil
}

// ParentPushKeyOf drops the trailing segment of a nested push key. ok is
// false for the root push, which has no parent.
func ParentPushKeyOf(pushKey string) (parent string, ok bool, err error) {
	k, err := decodeAs(pushKey, KindRevision)
	if err != nil {
		return "", false, err
	}
	if k.TopLevel() {
		return "", false, nil
	}
	return join(KindRevision, k.Path[:len(k.Path)-1]), true, nil
}

// RevisionKey builds a push key; no path yields RootPushKey.
func RevisionKey(path ...string) string { return join(KindRevision, path) }

// BuildKey builds a build key.
func BuildKey(path ...string) string { return join(KindBuild, path) }

// LogKey builds a log key.
func LogKey(path ...string) string { return join(KindLog, path) }

// SanitizeSegment makes an arbitrary identifier usable as a single path
// segment.
func SanitizeSegment(id string) string {
	if id == "" {
		return "_"
	}
	return strings.ReplaceAll(id, sep, "_")
}

func decodeAs(raw string, want Kind) (Key, error) {
	k, err := Decode(raw)
	if err != nil {
		return Key{}, err
	}
	if k.Kind != want {
		return Key{}, &FormatError{Key: raw, Reason: fmt.Sprintf("expected kind %s, got %s", want, k.Kind)}
	}
	return k, nil
}

func join(kind Kind, path []string) string {
	parts := make([]string, 0, len(path)+2)
	parts = append(parts, marker, kind.String())
	parts = append(parts, path...)
	return strings.Join(parts, sep)
}
