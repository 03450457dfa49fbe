package repodb

import (
	"context"
	"fmt"

	"github.com/go-gorp/gorp/v3"

	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

// RepomdRecord is everything committed for one repo: its repomd and the
// repodata and RPM rows the repomd transitively references.
type RepomdRecord struct {
	Repomd   RepomdRow
	Repodata []RepodataRow
	Rpms     []RpmRow
}

// Batch stages repomd records for a single all-or-nothing commit.
// A Batch is not safe for concurrent use.
type Batch struct {
	db     *DB
	staged []RepomdRecord
}

func (db *DB) NewBatch() *Batch {
	return &Batch{db: db}
}

// StoreRepomd stages the record under the given universe and repo name.
func (b *Batch) StoreRepomd(universe repo.Universe, repoName string, rec RepomdRecord) {
	rec.Repomd.Universe = string(universe)
	rec.Repomd.Repo = repoName
	for i := range rec.Rpms {
		rec.Rpms[i].Universe = string(universe)
	}
	b.staged = append(b.staged, rec)
}

// Len returns the number of staged repomds.
func (b *Batch) Len() int {
	return len(b.staged)
}

const (
	insertRepomd = `INSERT INTO repomd (universe, repo, fetch_timestamp, checksum, size, content)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`
	insertRepodata = `INSERT INTO repodata (checksum, size, storage_id, build_timestamp)
		VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`
	insertRpm = `INSERT INTO rpm (universe, nevra, checksum, content_digest, size, storage_id, build_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`
)

// Commit writes every staged record in one transaction. Either all repomds
// become visible or none do. The batch is emptied only on success.
func (b *Batch) Commit(ctx context.Context) error {
	if len(b.staged) == 0 {
		return nil
	}
	db := b.db
	err := db.insideTransaction(ctx, func(tx gorp.SqlExecutor) error {
		for _, rec := range b.staged {
			for _, d := range rec.Repodata {
				if _, err := tx.Exec(db.rebind(insertRepodata), d.Checksum, d.Size, d.StorageID, d.BuildTimestamp); err != nil {
					return fmt.Errorf("insert repodata %s: %w", d.Checksum, err)
				}
			}
			for _, r := range rec.Rpms {
				if _, err := tx.Exec(db.rebind(insertRpm), r.Universe, r.NEVRA, r.Checksum, r.ContentDigest, r.Size, r.StorageID, r.BuildTimestamp); err != nil {
					return fmt.Errorf("insert rpm %s/%s: %w", r.Universe, r.NEVRA, err)
				}
			}
			m := rec.Repomd
			if _, err := tx.Exec(db.rebind(insertRepomd), m.Universe, m.Repo, m.FetchTimestamp, m.Checksum, m.Size, m.Content); err != nil {
				return fmt.Errorf("insert repomd %s/%s: %w", m.Universe, m.Repo, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.staged = nil
	return nil
}
