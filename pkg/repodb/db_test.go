package repodb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "snapshot.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

func sampleRecord(nevra, content string) RepomdRecord {
	return RepomdRecord{
		Repomd: RepomdRow{FetchTimestamp: 100, Checksum: "sha256:" + strings.Repeat("a", 64), Size: int64(len(content)), Content: []byte(content)},
		Repodata: []RepodataRow{
			{Checksum: "sha256:" + strings.Repeat("b", 64), Size: 10, StorageID: "sha256:" + strings.Repeat("c", 64)},
		},
		Rpms: []RpmRow{
			{NEVRA: nevra, Checksum: "sha256:" + strings.Repeat("d", 64), ContentDigest: "sha256:" + strings.Repeat("d", 64), Size: 5, StorageID: "sha256:" + strings.Repeat("d", 64)},
		},
	}
}

func countRepomds(t *testing.T, db *DB) int64 {
	t.Helper()
	n, err := db.SelectInt("SELECT COUNT(*) FROM repomd")
	if err != nil {
		t.Fatalf("count repomd: %v", err)
	}
	return n
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 3; i++ {
		if err := db.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("EnsureSchema #%d: %v", i, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestCommitAndLookup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	b := db.NewBatch()
	b.StoreRepomd("centos", "base", sampleRecord("foo-1-1.x86_64", "<repomd/>"))
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("batch not emptied after commit")
	}

	rows, err := db.LookupRPMs(ctx, "centos", "foo-1-1.x86_64")
	if err != nil {
		t.Fatalf("LookupRPMs: %v", err)
	}
	if len(rows) != 1 || rows[0].Universe != "centos" || rows[0].Size != 5 {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	// Universe scoping.
	rows, err = db.LookupRPMs(ctx, "fedora", "foo-1-1.x86_64")
	if err != nil {
		t.Fatalf("LookupRPMs: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows in another universe, got %+v", rows)
	}

	rd, err := db.LookupRepodata(ctx, "sha256:"+strings.Repeat("b", 64))
	if err != nil {
		t.Fatalf("LookupRepodata: %v", err)
	}
	if rd == nil || rd.Size != 10 {
		t.Fatalf("unexpected repodata row: %+v", rd)
	}
	missing, err := db.LookupRepodata(ctx, "sha256:"+strings.Repeat("0", 64))
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown repodata, got %+v, %v", missing, err)
	}

	md, err := db.LatestRepomd(ctx, "centos", "base")
	if err != nil {
		t.Fatalf("LatestRepomd: %v", err)
	}
	if md == nil || string(md.Content) != "<repomd/>" {
		t.Fatalf("unexpected repomd: %+v", md)
	}
}

func TestCommitKnownRowsAreIgnored(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for ts := int64(100); ts <= 101; ts++ {
		rec := sampleRecord("foo-1-1.x86_64", "<repomd/>")
		rec.Repomd.FetchTimestamp = ts
		b := db.NewBatch()
		b.StoreRepomd("centos", "base", rec)
		if err := b.Commit(ctx); err != nil {
			t.Fatalf("Commit at %d: %v", ts, err)
		}
	}
	if n := countRepomds(t, db); n != 2 {
		t.Fatalf("expected 2 repomd rows, got %d", n)
	}
	rows, err := db.LookupRPMs(ctx, "centos", "foo-1-1.x86_64")
	if err != nil {
		t.Fatalf("LookupRPMs: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected rpm row to be recorded once, got %d", len(rows))
	}
	md, err := db.LatestRepomd(ctx, "centos", "base")
	if err != nil {
		t.Fatalf("LatestRepomd: %v", err)
	}
	if md.FetchTimestamp != 101 {
		t.Fatalf("expected latest timestamp 101, got %d", md.FetchTimestamp)
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.Exec(`CREATE TRIGGER reject_broken BEFORE INSERT ON repomd
		WHEN NEW.repo = 'broken' BEGIN SELECT RAISE(ABORT, 'injected failure'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	b := db.NewBatch()
	b.StoreRepomd("centos", "good", sampleRecord("foo-1-1.x86_64", "<good/>"))
	b.StoreRepomd("centos", "broken", sampleRecord("bar-1-1.x86_64", "<broken/>"))
	err = b.Commit(ctx)
	if err == nil || !strings.Contains(err.Error(), "injected failure") {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("failed commit must keep staged records, Len = %d", b.Len())
	}

	if n := countRepomds(t, db); n != 0 {
		t.Fatalf("expected no repomd rows after failed commit, got %d", n)
	}
	rows, err := db.LookupRPMs(ctx, "centos", "foo-1-1.x86_64")
	if err != nil {
		t.Fatalf("LookupRPMs: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rpm rows to be rolled back, got %+v", rows)
	}
}

func TestEmptyCommit(t *testing.T) {
	db := openTestDB(t)
	if err := db.NewBatch().Commit(context.Background()); err != nil {
		t.Fatalf("Commit of empty batch: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	lite := &DB{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("rebind = %q", got)
	}
}
