// Package memory provides an in-process archive for development and tests.
package memory

import (
	"context"
	"sync"
)

// Archive keeps raw payloads in a map keyed by path.
type Archive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// New constructs an Archive.
func New() *Archive {
	return &Archive{objects: make(map[string][]byte)}
}

// Put stores the payload and returns a mem:// URI.
func (a *Archive) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// Get returns a stored payload.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[path]
	return data, ok
}
