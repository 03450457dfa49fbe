package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/elastic-io/mindb"
)

const mindbBucket = "rpmrepo-snapshot"

func init() {
	Register("mindb", func(_ context.Context, root string, _ Options) (Backend, error) {
		return NewMinDBBackend(root)
	})
}

// MinDBBackend keeps objects inside an embedded mindb object database.
type MinDBBackend struct {
	db     *mindb.DB
	path   string
	bucket string
}

// NewMinDBBackend opens (or creates) the database at dbPath and makes sure the bucket exists.
func NewMinDBBackend(dbPath string) (*MinDBBackend, error) {
	db, err := mindb.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open mindb %s: %w", dbPath, err)
	}
	exists, err := db.BucketExists(mindbBucket)
	if err != nil {
		return nil, fmt.Errorf("check mindb bucket: %w", err)
	}
	if !exists {
		if err := db.CreateBucket(mindbBucket); err != nil {
			return nil, fmt.Errorf("create mindb bucket: %w", err)
		}
	}
	return &MinDBBackend{db: db, path: dbPath, bucket: mindbBucket}, nil
}

func (b *MinDBBackend) Root() string {
	return "mindb://" + b.path
}

func normalizeKey(p string) string {
	return strings.TrimPrefix(keyJoin("", p), "/")
}

func (b *MinDBBackend) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, err := b.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	obj, err := b.db.GetObject(b.bucket, normalizeKey(p))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return obj.Data, nil
}

func (b *MinDBBackend) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	err := b.db.PutObject(b.bucket, &mindb.ObjectData{
		Key:          normalizeKey(p),
		Data:         data,
		Size:         int64(len(data)),
		ContentType:  "application/octet-stream",
		Metadata:     map[string]string{"upload-time": now.UTC().Format(time.RFC3339)},
		LastModified: now,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

// Exists lists by prefix and looks for an exact key match, since GetObject
// does not distinguish a missing key from other failures.
func (b *MinDBBackend) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := normalizeKey(p)
	objects, _, err := b.db.ListObjects(b.bucket, key, "", "", 1)
	if err != nil {
		return false, fmt.Errorf("list %s: %w", p, err)
	}
	for _, obj := range objects {
		if obj.Key == key {
			return true, nil
		}
	}
	return false, nil
}

// Close releases the underlying database.
func (b *MinDBBackend) Close() error {
	return b.db.Close()
}
