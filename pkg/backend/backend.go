package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned (wrapped) by ReadFile when the path does not exist.
var ErrNotFound = errors.New("object not found")

// Backend abstracts path-keyed object storage under a single root.
// Paths are always slash separated and relative to the root (e.g. "blobs/sha256/ab/abcd").
type Backend interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	Root() string
}

// Options carries backend specific settings that do not fit in the root.
type Options struct {
	// Endpoint overrides the S3 endpoint for S3-compatible storage.
	Endpoint string
}

// Factory builds a backend for the given root.
type Factory func(ctx context.Context, root string, opts Options) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend kind available to New. Registering the same kind twice panics.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("backend %q registered twice", kind))
	}
	registry[kind] = f
}

// New creates a backend of the registered kind.
func New(ctx context.Context, kind, root string, opts Options) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backend %q not implemented (available: %v)", kind, Kinds())
	}
	if root == "" {
		return nil, fmt.Errorf("backend %q: root is required", kind)
	}
	return f(ctx, root, opts)
}

// Kinds lists the registered backend kinds in sorted order.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
