// Package storage implements the content-addressed blob store used for
// repodata files and RPMs. Storage ids are digest strings ("sha256:<hex>"),
// so putting identical bytes twice yields the same id.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/opencontainers/go-digest"

	"github.com/e2llm/rpmrepo-snapshot/pkg/backend"
)

var (
	// ErrNotFound is returned by Get for ids that were never stored.
	ErrNotFound = errors.New("storage id not found")
	// ErrInvalidID is returned for ids that are not well-formed digests.
	ErrInvalidID = errors.New("invalid storage id")
	// ErrCorrupted is returned by Get when stored bytes no longer match their id.
	ErrCorrupted = errors.New("stored blob does not match its id")
)

// Store is the put/get/exists contract every caller depends on.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// BlobStore implements Store on top of any backend.Backend.
type BlobStore struct {
	backend backend.Backend
}

func NewBlobStore(b backend.Backend) *BlobStore {
	return &BlobStore{backend: b}
}

// Open builds the backend of the given kind and wraps it in a BlobStore.
func Open(ctx context.Context, kind, root string, opts backend.Options) (*BlobStore, error) {
	b, err := backend.New(ctx, kind, root, opts)
	if err != nil {
		return nil, err
	}
	return NewBlobStore(b), nil
}

// Root describes where blobs live, for logging.
func (s *BlobStore) Root() string {
	return s.backend.Root()
}

// blobPath fans blobs out over 256 directories per algorithm.
func blobPath(d digest.Digest) string {
	hex := d.Encoded()
	return path.Join("blobs", string(d.Algorithm()), hex[:2], hex)
}

func parseID(id string) (digest.Digest, error) {
	d, err := digest.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidID, id, err)
	}
	return d, nil
}

func (s *BlobStore) Put(ctx context.Context, data []byte) (string, error) {
	d := digest.Canonical.FromBytes(data)
	p := blobPath(d)
	exists, err := s.backend.Exists(ctx, p)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", d, err)
	}
	if exists {
		return d.String(), nil
	}
	if err := s.backend.WriteFile(ctx, p, data); err != nil {
		return "", fmt.Errorf("put %s: %w", d, err)
	}
	return d.String(), nil
}

func (s *BlobStore) Get(ctx context.Context, id string) ([]byte, error) {
	d, err := parseID(id)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.ReadFile(ctx, blobPath(d))
	if errors.Is(err, backend.ErrNotFound) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	verifier := d.Verifier()
	_, _ = verifier.Write(data)
	if !verifier.Verified() {
		return nil, fmt.Errorf("get %s: %w", id, ErrCorrupted)
	}
	return data, nil
}

func (s *BlobStore) Exists(ctx context.Context, id string) (bool, error) {
	d, err := parseID(id)
	if err != nil {
		return false, err
	}
	return s.backend.Exists(ctx, blobPath(d))
}

// Close releases the backend when it holds resources, such as an open mindb
// database. Backends without state are left alone.
func (s *BlobStore) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
