// Package metrics holds the prometheus counters emitted while snapshotting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every counter. Create one per registry with New.
type Metrics struct {
	Fetches       *prometheus.CounterVec
	FetchRetries  *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
	FetchedBytes  prometheus.Counter
	DedupHits     *prometheus.CounterVec
	StoredBlobs   *prometheus.CounterVec
	ObjectErrors  *prometheus.CounterVec
	MutableRPMs   prometheus.Counter
}

// New creates the counters and registers them with reg (if non-nil).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmsnapshot_fetches_total",
				Help: "Counter for fetch attempts against upstream repositories, by URL scheme.",
			},
			[]string{"scheme"},
		),
		FetchRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmsnapshot_fetch_retries_total",
				Help: "Counter for fetches that were retried after a transient failure.",
			},
			[]string{"scheme"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmsnapshot_fetch_failures_total",
				Help: "Counter for fetches that failed after all retries.",
			},
			[]string{"scheme"},
		),
		FetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpmsnapshot_fetched_bytes_total",
			Help: "Counter for bytes downloaded from upstream repositories.",
		}),
		DedupHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmsnapshot_dedup_hits_total",
				Help: "Counter for objects resolved from the metadata database without a download.",
			},
			[]string{"kind"},
		),
		StoredBlobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmsnapshot_stored_blobs_total",
				Help: "Counter for blobs written to the content store.",
			},
			[]string{"kind"},
		),
		ObjectErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmsnapshot_object_errors_total",
				Help: "Counter for per-object errors recorded in snapshots, by error kind.",
			},
			[]string{"kind"},
		),
		MutableRPMs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rpmsnapshot_mutable_rpms_total",
			Help: "Counter for RPMs whose content changed under an unchanged NEVRA.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Fetches, m.FetchRetries, m.FetchFailures, m.FetchedBytes,
			m.DedupHits, m.StoredBlobs, m.ObjectErrors, m.MutableRPMs)
	}
	return m
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
