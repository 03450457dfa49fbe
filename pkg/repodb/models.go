package repodb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-gorp/gorp/v3"

	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

// RepomdRow is one fetched repomd.xml, stored verbatim.
type RepomdRow struct {
	Universe       string `db:"universe"`
	Repo           string `db:"repo"`
	FetchTimestamp int64  `db:"fetch_timestamp"`
	Checksum       string `db:"checksum"`
	Size           int64  `db:"size"`
	Content        []byte `db:"content"`
}

// RepodataRow maps a repodata checksum to its blob. Repodata is not universe
// scoped: its checksum names immutable content.
type RepodataRow struct {
	Checksum       string `db:"checksum"`
	Size           int64  `db:"size"`
	StorageID      string `db:"storage_id"`
	BuildTimestamp int64  `db:"build_timestamp"`
}

// RpmRow maps an RPM (universe, NEVRA, declared checksum) to its blob.
// ContentDigest is the canonical digest of the downloaded bytes, used to
// detect upstream mutation across declared checksum algorithms.
type RpmRow struct {
	Universe       string `db:"universe"`
	NEVRA          string `db:"nevra"`
	Checksum       string `db:"checksum"`
	ContentDigest  string `db:"content_digest"`
	Size           int64  `db:"size"`
	StorageID      string `db:"storage_id"`
	BuildTimestamp int64  `db:"build_timestamp"`
}

func initModels(db *gorp.DbMap) {
	db.AddTableWithName(RepomdRow{}, "repomd").SetKeys(false, "universe", "repo", "fetch_timestamp", "checksum")
	db.AddTableWithName(RepodataRow{}, "repodata").SetKeys(false, "checksum")
	rpm := db.AddTableWithName(RpmRow{}, "rpm").SetKeys(false, "universe", "nevra", "checksum")
	rpm.ColMap("nevra").SetMaxSize(1024)
}

// LookupRPMs returns every recorded row for the NEVRA within the universe.
func (db *DB) LookupRPMs(ctx context.Context, universe repo.Universe, nevra string) ([]RpmRow, error) {
	var rows []RpmRow
	_, err := db.WithContext(ctx).Select(&rows,
		db.rebind(`SELECT * FROM rpm WHERE universe = ? AND nevra = ? ORDER BY checksum`),
		string(universe), nevra)
	if err != nil {
		return nil, fmt.Errorf("lookup rpm %s/%s: %w", universe, nevra, err)
	}
	return rows, nil
}

// LookupRepodata returns the row for a repodata checksum ("algo:hex"), or nil.
func (db *DB) LookupRepodata(ctx context.Context, checksum string) (*RepodataRow, error) {
	var row RepodataRow
	err := db.WithContext(ctx).SelectOne(&row,
		db.rebind(`SELECT * FROM repodata WHERE checksum = ?`), checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup repodata %s: %w", checksum, err)
	}
	return &row, nil
}

// LatestRepomd returns the most recently committed repomd of a repo, or nil.
func (db *DB) LatestRepomd(ctx context.Context, universe repo.Universe, repoName string) (*RepomdRow, error) {
	var row RepomdRow
	err := db.WithContext(ctx).SelectOne(&row,
		db.rebind(`SELECT * FROM repomd WHERE universe = ? AND repo = ? ORDER BY fetch_timestamp DESC, checksum LIMIT 1`),
		string(universe), repoName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup repomd %s/%s: %w", universe, repoName, err)
	}
	return &row, nil
}
