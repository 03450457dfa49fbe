package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAndExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Fetches.WithLabelValues("https").Add(3)
	m.MutableRPMs.Inc()

	if got := testutil.ToFloat64(m.Fetches.WithLabelValues("https")); got != 3 {
		t.Fatalf("fetches = %v, want 3", got)
	}

	path := filepath.Join(t.TempDir(), "rpmsnapshot.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{`rpmsnapshot_fetches_total{scheme="https"} 3`, "rpmsnapshot_mutable_rpms_total 1"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.DedupHits.WithLabelValues("rpm").Inc()
	if got := testutil.ToFloat64(m.DedupHits.WithLabelValues("rpm")); got != 1 {
		t.Fatalf("dedup hits = %v, want 1", got)
	}
}
