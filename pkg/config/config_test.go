package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

const sampleConfig = `
storage:
  kind: fs
  root: /srv/blobs
database:
  driver: sqlite3
  dsn: /srv/snapshot.db
download:
  rpm_concurrency: 16
  timeout: 45s
  shard: "1:4"
log:
  level: debug
repos:
  - name: baseos
    universe: el9
    base_url: https://mirror.example.com/el9/BaseOS/x86_64/os
    gpg_keys: [keys/RPM-GPG-KEY]
  - name: appstream
    universe: el9
    base_url: https://mirror.example.com/el9/AppStream/x86_64/os
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Download.RPMConcurrency != 16 || cfg.Download.Timeout != 45*time.Second {
		t.Fatalf("download settings not applied: %+v", cfg.Download)
	}
	if cfg.Download.RepoConcurrency == 0 || cfg.Download.Retries == 0 {
		t.Fatalf("defaults lost: %+v", cfg.Download)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("log settings: %+v", cfg.Log)
	}
	shard, err := cfg.Shard()
	if err != nil || shard != (repo.Shard{Index: 1, Modulo: 4}) {
		t.Fatalf("shard = %+v, %v", shard, err)
	}
	entries := cfg.Entries()
	if len(entries) != 2 || entries[0].String() != "el9/baseos" || entries[1].String() != "el9/appstream" {
		t.Fatalf("entries = %v", entries)
	}
	if want := filepath.Join(dir, "keys/RPM-GPG-KEY"); entries[0].Repo.GPGKeys[0] != want {
		t.Fatalf("gpg key path = %s, want %s", entries[0].Repo.GPGKeys[0], want)
	}
	if _, ok := cfg.Find("el9", "appstream"); !ok {
		t.Fatal("Find: appstream not found")
	}
}

func TestParseAggregatesErrors(t *testing.T) {
	_, err := Parse([]byte(`
storage:
  kind: tape
database:
  driver: oracle
download:
  shard: "5:2"
repos:
  - name: baseos
    universe: el9
    base_url: ftp://mirror.example.com/os
  - name: baseos
    universe: el9
    base_url: https://mirror.example.com/os
`))
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"storage.kind", "storage.root", "database.driver", "database.dsn", "download.shard", "unsupported base url scheme", "listed more than once"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q: %v", want, err)
		}
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("storage:\n  kind: fs\n  root: /x\n  bukket: nope\n"))
	if err == nil || !strings.Contains(err.Error(), "bukket") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}
