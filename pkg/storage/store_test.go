package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/e2llm/rpmrepo-snapshot/pkg/backend"
)

// memBackend is a simple in-memory backend for tests.
type memBackend struct {
	mu     sync.Mutex
	files  map[string][]byte
	writes int
	failOn string
}

func newMemBackend() *memBackend {
	return &memBackend{files: make(map[string][]byte)}
}

func (m *memBackend) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.files[path]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%s: %w", path, backend.ErrNotFound)
}

func (m *memBackend) WriteFile(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.Contains(path, m.failOn) {
		return errors.New("disk full")
	}
	m.writes++
	m.files[path] = data
	return nil
}

func (m *memBackend) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *memBackend) Root() string { return "mem://" }

func TestPutGetExists(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	s := NewBlobStore(mb)

	data := []byte("rpm payload")
	id, err := s.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if want := digest.FromBytes(data).String(); id != want {
		t.Fatalf("id = %s, want %s", id, want)
	}
	if _, ok := mb.files["blobs/sha256/"+id[7:9]+"/"+id[7:]]; !ok {
		t.Fatalf("blob not stored at fan-out path, have %v", mb.files)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}

	exists, err := s.Exists(ctx, id)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected blob to exist")
	}
}

func TestPutIdempotent(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	s := NewBlobStore(mb)

	id1, err := s.Put(ctx, []byte("same"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	id2, err := s.Put(ctx, []byte("same"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected identical ids, got %s and %s", id1, id2)
	}
	if mb.writes != 1 {
		t.Fatalf("expected 1 backend write, got %d", mb.writes)
	}
}

func TestConcurrentPutSameContent(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(backend.NewFSBackend(t.TempDir()))

	var wg sync.WaitGroup
	ids := make([]string, 16)
	errs := make([]error, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = s.Put(ctx, []byte("contended"))
		}(i)
	}
	wg.Wait()
	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("Put %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("id %d = %s, want %s", i, ids[i], ids[0])
		}
	}
	got, err := s.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "contended" {
		t.Fatalf("got %q", got)
	}
}

func TestGetMissing(t *testing.T) {
	s := NewBlobStore(newMemBackend())
	_, err := s.Get(context.Background(), digest.FromString("nothing").String())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidID(t *testing.T) {
	s := NewBlobStore(newMemBackend())
	ctx := context.Background()
	for _, id := range []string{"", "abc", "sha256:zz", "md5:d41d8cd98f00b204e9800998ecf8427e"} {
		if _, err := s.Get(ctx, id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Get(%q): expected ErrInvalidID, got %v", id, err)
		}
		if _, err := s.Exists(ctx, id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Exists(%q): expected ErrInvalidID, got %v", id, err)
		}
	}
}

func TestGetCorrupted(t *testing.T) {
	ctx := context.Background()
	mb := newMemBackend()
	s := NewBlobStore(mb)

	id, err := s.Put(ctx, []byte("original"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	for k := range mb.files {
		mb.files[k] = []byte("tampered")
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestPutFailureSurfaces(t *testing.T) {
	mb := newMemBackend()
	mb.failOn = "blobs/"
	s := NewBlobStore(mb)
	if _, err := s.Put(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected Put error to surface")
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), "fs", t.TempDir(), backend.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Put(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := Open(context.Background(), "nope", "x", backend.Options{}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

type closingBackend struct {
	*memBackend
	closed int
}

func (c *closingBackend) Close() error {
	c.closed++
	return nil
}

func TestCloseReleasesBackend(t *testing.T) {
	cb := &closingBackend{memBackend: newMemBackend()}
	if err := NewBlobStore(cb).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if cb.closed != 1 {
		t.Fatalf("expected backend closed once, got %d", cb.closed)
	}
	if err := NewBlobStore(newMemBackend()).Close(); err != nil {
		t.Fatalf("Close without closer: %v", err)
	}
}
