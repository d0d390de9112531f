package fuzzy

import (
	"fmt"
	"sort"
	"strings"
)

// Hasher defines a fuzzy hashing implementation over an in-memory
// payload.
type Hasher interface {
	Name() string
	HashBytes(data []byte) (string, error)
}

var registry = map[string]Hasher{}

// Register adds a fuzzy hasher to the registry.
func Register(hasher Hasher) {
	if hasher == nil {
		return
	}
	registry[strings.ToLower(hasher.Name())] = hasher
}

// Lookup returns a registered hasher by name.
func Lookup(name string) (Hasher, bool) {
	hasher, ok := registry[strings.ToLower(name)]
	return hasher, ok
}

// Hash runs the named hasher over data.
func Hash(name string, data []byte) (string, error) {
	hasher, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown fuzzy hasher %q", name)
	}
	return hasher.HashBytes(data)
}

// Available returns the names of registered hashers, sorted.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
