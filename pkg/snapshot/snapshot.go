// Package snapshot drives a batch: it runs the download stages to completion,
// records everything that was fetched in one database transaction and hands
// back a RepoSnapshot per repo.
package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-snapshot/pkg/downloader"
	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repodb"
	"github.com/e2llm/rpmrepo-snapshot/pkg/storage"
)

// RepoSnapshot is the outcome for one repo: its repomd plus every repodata
// role and RPM identity, each mapped to a storage id or an error. Filtered
// counts RPM references outside the configured shard.
type RepoSnapshot struct {
	Repomd   *downloader.Repomd
	Repodata map[string]downloader.RepodataObject
	Rpms     map[metadata.PackageKey]downloader.RpmObject
	Filtered int
}

// Err combines every per-object error, or returns nil when the snapshot is complete.
func (s *RepoSnapshot) Err() error {
	var result *multierror.Error
	roles := lo.Keys(s.Repodata)
	sort.Strings(roles)
	for _, role := range roles {
		if err := s.Repodata[role].Err; err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, key := range sortedKeys(s.Rpms) {
		if err := s.Rpms[key].Err; err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func sortedKeys(m map[metadata.PackageKey]downloader.RpmObject) []metadata.PackageKey {
	keys := lo.Keys(m)
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Result pairs a repo with its snapshot. Err is set when the repo could not
// be snapshotted as a whole (repomd or primary failure); Snapshot is then nil
// and nothing is recorded for the repo.
type Result struct {
	Entry    repo.Entry
	Snapshot *RepoSnapshot
	Err      error
}

type Snapshotter struct {
	db         *repodb.DB
	store      storage.Store
	downloader *downloader.Downloader
	shard      repo.Shard
	log        *logrus.Logger
}

func New(db *repodb.DB, store storage.Store, d *downloader.Downloader) *Snapshotter {
	return &Snapshotter{db: db, store: store, downloader: d, log: logrus.StandardLogger()}
}

func (s *Snapshotter) WithLogger(l *logrus.Logger) *Snapshotter {
	if l != nil {
		s.log = l
	}
	return s
}

// WithShard limits Check to the RPMs of one shard, matching the downloader.
func (s *Snapshotter) WithShard(shard repo.Shard) *Snapshotter {
	s.shard = shard
	return s
}

// Run snapshots entries. Downloads run concurrently and drain fully; the
// database is then written once, by this goroutine. Repos that failed as a
// whole are not recorded, so their latest snapshot stays the last good one.
// A commit failure fails the whole batch: no result is returned and nothing
// is recorded. Blobs already put stay in the store.
func (s *Snapshotter) Run(ctx context.Context, entries []repo.Entry) ([]Result, error) {
	if err := s.db.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	d := s.downloader
	repomds := d.DownloadRepomds(ctx, entries)
	repodatas := d.DownloadRepodatas(ctx, repomds)
	universes := lo.Uniq(lo.Map(entries, func(e repo.Entry, _ int) repo.Universe { return e.Universe }))
	rpms := d.DownloadRPMs(ctx, repodatas, universes)

	results := make([]Result, len(rpms))
	batch := s.db.NewBatch()
	for i, r := range rpms {
		results[i] = Result{Entry: r.Entry, Err: r.Err}
		if r.Err != nil || r.Repomd == nil {
			continue
		}
		snap := &RepoSnapshot{Repomd: r.Repomd, Repodata: r.Repodata, Rpms: r.Rpms, Filtered: r.Filtered}
		results[i].Snapshot = snap
		batch.StoreRepomd(r.Entry.Universe, r.Entry.Repo.Name, record(snap))
	}

	staged := batch.Len()
	if err := batch.Commit(ctx); err != nil {
		s.log.WithError(err).WithField("repos", staged).Error("snapshot commit failed")
		return nil, fmt.Errorf("commit snapshot: %w", err)
	}
	s.log.WithFields(logrus.Fields{"repos": len(entries), "committed": staged}).Info("snapshot committed")
	return results, nil
}

// record turns the successful objects of a snapshot into database rows.
func record(snap *RepoSnapshot) repodb.RepomdRecord {
	rec := repodb.RepomdRecord{
		Repomd: repodb.RepomdRow{
			FetchTimestamp: snap.Repomd.FetchedAt.Unix(),
			Checksum:       snap.Repomd.Checksum,
			Size:           int64(len(snap.Repomd.Raw)),
			Content:        snap.Repomd.Raw,
		},
	}
	roles := lo.Keys(snap.Repodata)
	sort.Strings(roles)
	for _, role := range roles {
		obj := snap.Repodata[role]
		if obj.Err != nil {
			continue
		}
		rec.Repodata = append(rec.Repodata, repodb.RepodataRow{
			Checksum:       obj.Checksum.String(),
			Size:           obj.Size,
			StorageID:      obj.StorageID,
			BuildTimestamp: obj.Timestamp,
		})
	}
	for _, key := range sortedKeys(snap.Rpms) {
		obj := snap.Rpms[key]
		if obj.Err != nil {
			continue
		}
		rec.Rpms = append(rec.Rpms, repodb.RpmRow{
			NEVRA:          key.NEVRA,
			Checksum:       key.Checksum,
			ContentDigest:  obj.ContentDigest,
			Size:           obj.Package.SizePackage,
			StorageID:      obj.StorageID,
			BuildTimestamp: obj.Package.TimeBuild,
		})
	}
	return rec
}
