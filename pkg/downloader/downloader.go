// Package downloader fetches repomd, repodata and RPMs for a set of repos,
// verifies them against their declared checksums and puts them into the
// content store. Each stage takes the previous stage's results and drains
// fully before returning; per-object failures are values, never panics or
// aborted batches.
package downloader

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-snapshot/pkg/fetch"
	"github.com/e2llm/rpmrepo-snapshot/pkg/metrics"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repodb"
	"github.com/e2llm/rpmrepo-snapshot/pkg/storage"
)

// Index is the read side of the metadata database used for dedup.
type Index interface {
	LookupRPMs(ctx context.Context, universe repo.Universe, nevra string) ([]repodb.RpmRow, error)
	LookupRepodata(ctx context.Context, checksum string) (*repodb.RepodataRow, error)
}

const (
	DefaultRepoConcurrency     = 4
	DefaultRepodataConcurrency = 4
	DefaultRPMConcurrency      = 8
)

type Config struct {
	RepoConcurrency     int
	RepodataConcurrency int
	// RPMConcurrency bounds downloads per repo.
	RPMConcurrency int
	VerifyHeaders  bool
	// Shard restricts RPM downloads to a subset of NEVRAs. Zero means all.
	Shard repo.Shard
	// Now stamps fetched repomds. Defaults to time.Now.
	Now func() time.Time
}

type Downloader struct {
	fetcher  fetch.Fetcher
	store    storage.Store
	index    Index
	cfg      Config
	metrics  *metrics.Metrics
	log      *logrus.Logger
	visitors *visitors
}

func New(f fetch.Fetcher, s storage.Store, idx Index, cfg Config) *Downloader {
	if cfg.RepoConcurrency <= 0 {
		cfg.RepoConcurrency = DefaultRepoConcurrency
	}
	if cfg.RepodataConcurrency <= 0 {
		cfg.RepodataConcurrency = DefaultRepodataConcurrency
	}
	if cfg.RPMConcurrency <= 0 {
		cfg.RPMConcurrency = DefaultRPMConcurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := logrus.StandardLogger()
	return &Downloader{
		fetcher:  f,
		store:    s,
		index:    idx,
		cfg:      cfg,
		metrics:  metrics.New(nil),
		log:      log,
		visitors: &visitors{log: log},
	}
}

// WithLogger sets the logger used by the downloader and its visitors.
func (d *Downloader) WithLogger(l *logrus.Logger) *Downloader {
	if l != nil {
		d.log = l
		d.visitors.log = l
	}
	return d
}

func (d *Downloader) WithMetrics(m *metrics.Metrics) *Downloader {
	if m != nil {
		d.metrics = m
	}
	return d
}

// AddVisitor registers v. Must be called before any download starts.
func (d *Downloader) AddVisitor(v Visitor) *Downloader {
	d.visitors.list = append(d.visitors.list, v)
	return d
}

func (d *Downloader) logEntry(e repo.Entry) *logrus.Entry {
	return d.log.WithFields(logrus.Fields{"universe": e.Universe, "repo": e.Repo.Name})
}

// countError bumps the per-kind error counter for a failed object.
func (d *Downloader) countError(err error) {
	if err == nil {
		return
	}
	if kind, ok := KindOf(err); ok {
		d.metrics.ObjectErrors.WithLabelValues(kind.String()).Inc()
	}
}
