package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFSBackendWriteReadExists(t *testing.T) {
	dir := t.TempDir()
	b := NewFSBackend(dir)

	ctx := context.Background()
	path := "blobs/sha256/ab/abcdef"
	data := []byte("hello world")

	if err := b.WriteFile(ctx, path, data); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := b.ReadFile(ctx, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}

	exists, err := b.Exists(ctx, path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected file to exist")
	}

	// No temp files left behind next to the object.
	entries, err := os.ReadDir(filepath.Join(dir, "blobs", "sha256", "ab"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestFSBackendOverwrite(t *testing.T) {
	b := NewFSBackend(t.TempDir())
	ctx := context.Background()

	if err := b.WriteFile(ctx, "a", []byte("one")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := b.WriteFile(ctx, "a", []byte("two")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := b.ReadFile(ctx, "a")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("got %q, want %q", got, "two")
	}
}

func TestFSBackendReadMissing(t *testing.T) {
	b := NewFSBackend(t.TempDir())
	_, err := b.ReadFile(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFSBackendPathEscape(t *testing.T) {
	dir := t.TempDir()
	b := NewFSBackend(filepath.Join(dir, "root"))
	ctx := context.Background()

	if err := b.WriteFile(ctx, "../outside", []byte("x")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "outside")); err == nil {
		t.Fatalf("write escaped the backend root")
	}
	if _, err := os.Stat(filepath.Join(dir, "root", "outside")); err != nil {
		t.Fatalf("expected write to be clamped below root: %v", err)
	}

	if err := b.WriteFile(ctx, "..", []byte("x")); err == nil {
		t.Fatalf("expected error for path resolving to the root")
	}
}

func TestFSBackendRoot(t *testing.T) {
	b := NewFSBackend("/srv/blobs")
	if b.Root() != "/srv/blobs" {
		t.Fatalf("expected /srv/blobs, got %s", b.Root())
	}
}

func TestFSBackendCanceledContext(t *testing.T) {
	b := NewFSBackend(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.ReadFile(ctx, "test"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := b.WriteFile(ctx, "test", []byte("data")); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := b.Exists(ctx, "test"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFSBackendExistsNonExistent(t *testing.T) {
	b := NewFSBackend(t.TempDir())

	exists, err := b.Exists(context.Background(), "nonexistent.txt")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatalf("expected file to not exist")
	}
}

func TestRegistry(t *testing.T) {
	kinds := Kinds()
	want := []string{"fs", "mindb", "s3"}
	if len(kinds) != len(want) {
		t.Fatalf("Kinds() = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("Kinds() = %v, want %v", kinds, want)
		}
	}

	b, err := New(context.Background(), "fs", t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New(fs): %v", err)
	}
	if _, ok := b.(*FSBackend); !ok {
		t.Fatalf("expected *FSBackend, got %T", b)
	}

	if _, err := New(context.Background(), "tape", "/dev/st0", Options{}); err == nil {
		t.Fatalf("expected error for unknown backend kind")
	}
	if _, err := New(context.Background(), "fs", "", Options{}); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"s3://bucket", "bucket", "", false},
		{"s3://bucket/", "bucket", "", false},
		{"s3://bucket/prefix", "bucket", "prefix", false},
		{"s3://bucket/prefix/path/", "bucket", "prefix/path", false},
		{"http://bucket/prefix", "", "", true},
		{"s3://", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		bucket, prefix, err := ParseS3URI(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseS3URI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			continue
		}
		if bucket != tt.wantBucket {
			t.Errorf("ParseS3URI(%q) bucket = %q, want %q", tt.uri, bucket, tt.wantBucket)
		}
		if prefix != tt.wantPrefix {
			t.Errorf("ParseS3URI(%q) prefix = %q, want %q", tt.uri, prefix, tt.wantPrefix)
		}
	}
}

func TestKeyJoin(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "", ""},
		{"", "path", "path"},
		{"prefix", "", "prefix"},
		{"prefix/", "/path", "prefix/path"},
		{"prefix", "a/b/c", "prefix/a/b/c"},
		{"prefix", ".", "prefix"},
	}

	for _, tt := range tests {
		got := keyJoin(tt.prefix, tt.path)
		if got != tt.want {
			t.Errorf("keyJoin(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}
