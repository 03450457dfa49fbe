// Package config loads the YAML file describing storage, database, download
// tuning, logging and the repos to snapshot.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/e2llm/rpmrepo-snapshot/pkg/backend"
	"github.com/e2llm/rpmrepo-snapshot/pkg/downloader"
	"github.com/e2llm/rpmrepo-snapshot/pkg/fetch"
	"github.com/e2llm/rpmrepo-snapshot/pkg/logutil"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repodb"
)

type Config struct {
	Storage  Storage         `yaml:"storage"`
	Database Database        `yaml:"database"`
	Download Download        `yaml:"download"`
	Log      logutil.Options `yaml:"log"`
	Repos    []Repo          `yaml:"repos"`
}

type Storage struct {
	Kind     string `yaml:"kind"`
	Root     string `yaml:"root"`
	Endpoint string `yaml:"endpoint"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Download struct {
	RepoConcurrency     int           `yaml:"repo_concurrency"`
	RepodataConcurrency int           `yaml:"repodata_concurrency"`
	RPMConcurrency      int           `yaml:"rpm_concurrency"`
	Timeout             time.Duration `yaml:"timeout"`
	Retries             int           `yaml:"retries"`
	VerifyHeaders       bool          `yaml:"verify_headers"`
	// Shard is "index:modulo"; empty downloads every RPM.
	Shard string `yaml:"shard"`
	// S3Endpoint is used for s3:// repo URLs.
	S3Endpoint string `yaml:"s3_endpoint"`
}

type Repo struct {
	Name     string   `yaml:"name"`
	Universe string   `yaml:"universe"`
	BaseURL  string   `yaml:"base_url"`
	GPGKeys  []string `yaml:"gpg_keys"`
}

// Default returns a config with every tunable set.
func Default() Config {
	return Config{
		Storage:  Storage{Kind: "fs"},
		Database: Database{Driver: repodb.DriverSQLite},
		Download: Download{
			RepoConcurrency:     downloader.DefaultRepoConcurrency,
			RepodataConcurrency: downloader.DefaultRepodataConcurrency,
			RPMConcurrency:      downloader.DefaultRPMConcurrency,
			Timeout:             fetch.DefaultTimeout,
			Retries:             fetch.DefaultRetries,
		},
		Log: logutil.DefaultOptions(),
	}
}

// Load reads and validates the file at path. Relative gpg key paths are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range cfg.Repos {
		for j, key := range cfg.Repos[i].GPGKeys {
			if !filepath.IsAbs(key) {
				cfg.Repos[i].GPGKeys[j] = filepath.Join(dir, key)
			}
		}
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if !lo.Contains(backend.Kinds(), c.Storage.Kind) {
		errs = append(errs, fmt.Errorf("storage.kind %q is not one of %v", c.Storage.Kind, backend.Kinds()))
	}
	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root is required"))
	}
	switch c.Database.Driver {
	case repodb.DriverSQLite, repodb.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Download.RepoConcurrency < 1 || c.Download.RepodataConcurrency < 1 || c.Download.RPMConcurrency < 1 {
		errs = append(errs, errors.New("download concurrency settings must be at least 1"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download.timeout must be positive"))
	}
	if c.Download.Retries < 0 {
		errs = append(errs, errors.New("download.retries must not be negative"))
	}
	if _, err := c.Shard(); err != nil {
		errs = append(errs, fmt.Errorf("download.shard: %w", err))
	}
	if len(c.Repos) == 0 {
		errs = append(errs, errors.New("at least one repo is required"))
	}
	for _, e := range c.Entries() {
		if err := e.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	dups := lo.FindDuplicates(lo.Map(c.Entries(), func(e repo.Entry, _ int) string { return e.String() }))
	for _, d := range dups {
		errs = append(errs, fmt.Errorf("repo %s is listed more than once", d))
	}
	return errors.Join(errs...)
}

// Shard parses download.shard.
func (c *Config) Shard() (repo.Shard, error) {
	if c.Download.Shard == "" {
		return repo.Shard{}, nil
	}
	return repo.ParseShard(c.Download.Shard)
}

// Entries returns the repos in file order.
func (c *Config) Entries() []repo.Entry {
	return lo.Map(c.Repos, func(r Repo, _ int) repo.Entry {
		return repo.Entry{
			Repo:     repo.Repo{Name: r.Name, BaseURL: r.BaseURL, GPGKeys: r.GPGKeys},
			Universe: repo.Universe(r.Universe),
		}
	})
}

// Find returns the entry for universe and name.
func (c *Config) Find(universe, name string) (repo.Entry, bool) {
	return lo.Find(c.Entries(), func(e repo.Entry) bool {
		return string(e.Universe) == universe && e.Repo.Name == name
	})
}
