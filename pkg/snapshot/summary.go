package snapshot

import (
	"github.com/hashicorp/go-multierror"
)

// Summary is the printable outcome of one repo.
type Summary struct {
	Universe string   `json:"universe"`
	Repo     string   `json:"repo"`
	Repomd   string   `json:"repomd,omitempty"`
	Repodata int      `json:"repodata"`
	Rpms     int      `json:"rpms"`
	Deduped  int      `json:"deduped"`
	Failed   int      `json:"failed"`
	// Filtered RPMs belong to other shards; they are not failures.
	Filtered int      `json:"filtered"`
	Errors   []string `json:"errors,omitempty"`
}

// OK reports whether the repo was snapshotted without any error.
func (s Summary) OK() bool {
	return len(s.Errors) == 0
}

func (r Result) Summary() Summary {
	sum := Summary{Universe: string(r.Entry.Universe), Repo: r.Entry.Repo.Name}
	if r.Err != nil {
		sum.Errors = append(sum.Errors, r.Err.Error())
	}
	snap := r.Snapshot
	if snap == nil {
		return sum
	}
	sum.Repomd = snap.Repomd.Checksum
	sum.Repodata = len(snap.Repodata)
	sum.Rpms = len(snap.Rpms)
	sum.Filtered = snap.Filtered
	for _, obj := range snap.Repodata {
		if obj.Deduped {
			sum.Deduped++
		}
	}
	for _, obj := range snap.Rpms {
		if obj.Deduped {
			sum.Deduped++
		}
	}
	if merr, ok := snap.Err().(*multierror.Error); ok {
		sum.Failed = len(merr.Errors)
		for _, err := range merr.Errors {
			sum.Errors = append(sum.Errors, err.Error())
		}
	}
	return sum
}
