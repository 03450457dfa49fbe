package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/e2llm/rpmrepo-snapshot/pkg/backend"
	"github.com/e2llm/rpmrepo-snapshot/pkg/config"
	"github.com/e2llm/rpmrepo-snapshot/pkg/downloader"
	"github.com/e2llm/rpmrepo-snapshot/pkg/fetch"
	"github.com/e2llm/rpmrepo-snapshot/pkg/metrics"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repodb"
	"github.com/e2llm/rpmrepo-snapshot/pkg/snapshot"
	"github.com/e2llm/rpmrepo-snapshot/pkg/storage"
)

// env holds everything a command needs, built from the config.
type env struct {
	snapshotter *snapshot.Snapshotter
	registry    *prometheus.Registry
	db          *repodb.DB
	store       *storage.BlobStore
}

func newEnv(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*env, error) {
	shard, err := cfg.Shard()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage.Kind, cfg.Storage.Root, backend.Options{Endpoint: cfg.Storage.Endpoint})
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	db, err := repodb.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	client := fetch.New(fetch.Options{
		Timeout:    cfg.Download.Timeout,
		Retries:    cfg.Download.Retries,
		S3Endpoint: cfg.Download.S3Endpoint,
		Metrics:    m,
		Logger:     log,
	})
	d := downloader.New(client, store, db, downloader.Config{
		RepoConcurrency:     cfg.Download.RepoConcurrency,
		RepodataConcurrency: cfg.Download.RepodataConcurrency,
		RPMConcurrency:      cfg.Download.RPMConcurrency,
		VerifyHeaders:       cfg.Download.VerifyHeaders,
		Shard:               shard,
	}).WithLogger(log).WithMetrics(m).AddVisitor(downloader.LogVisitor{Log: log})

	return &env{
		snapshotter: snapshot.New(db, store, d).WithLogger(log).WithShard(shard),
		registry:    registry,
		db:          db,
		store:       store,
	}, nil
}

func (e *env) Close() error {
	return errors.Join(e.db.Close(), e.store.Close())
}
