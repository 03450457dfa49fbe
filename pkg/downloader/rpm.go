package downloader

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/e2llm/rpmrepo-snapshot/pkg/inspector"
	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repodb"
)

// RpmObject is one resolved RPM reference.
type RpmObject struct {
	Package   metadata.Package
	StorageID string
	// ContentDigest is the canonical digest of the RPM bytes.
	ContentDigest string
	Deduped       bool
	Err           error
}

// RpmResult extends RepodataResult with every RPM the primary references,
// keyed by identity. Filtered counts references left out by the shard.
type RpmResult struct {
	RepodataResult
	Rpms     map[metadata.PackageKey]RpmObject
	Filtered int
}

// DownloadRPMs resolves every RPM referenced by the usable repodata results.
// universes lists the universes taking part in this batch; a repo from any
// other universe is rejected. Results are in input order. RPMs are reported
// to visitors once the whole batch has been checked for mutations.
func (d *Downloader) DownloadRPMs(ctx context.Context, repodatas []RepodataResult, universes []repo.Universe) []RpmResult {
	allowed := lo.SliceToMap(universes, func(u repo.Universe) (repo.Universe, struct{}) {
		return u, struct{}{}
	})
	// Concurrent fetches of the same URL share one request.
	var flight singleflight.Group
	results := make([]RpmResult, len(repodatas))
	var g errgroup.Group
	g.SetLimit(d.cfg.RepoConcurrency)
	for i, r := range repodatas {
		results[i].RepodataResult = r
		if r.Err != nil {
			continue
		}
		if _, ok := allowed[r.Entry.Universe]; !ok {
			results[i].Err = fmt.Errorf("repo %s: universe %q is not part of this batch", r.Entry, r.Entry.Universe)
			continue
		}
		g.Go(func() error {
			results[i].Rpms, results[i].Filtered = d.downloadRPMs(ctx, r, &flight)
			return nil
		})
	}
	_ = g.Wait()

	d.flagMutations(results)
	for _, r := range results {
		if r.Rpms != nil {
			d.report(r)
		}
	}
	return results
}

func (d *Downloader) downloadRPMs(ctx context.Context, r RepodataResult, flight *singleflight.Group) (map[metadata.PackageKey]RpmObject, int) {
	out := make(map[metadata.PackageKey]RpmObject, len(r.Packages))
	byKey := lo.GroupBy(r.Packages, func(p metadata.Package) metadata.PackageKey { return p.Key() })
	var todo []metadata.Package
	filtered := 0
	for _, p := range lo.UniqBy(r.Packages, func(p metadata.Package) metadata.PackageKey { return p.Key() }) {
		if !d.cfg.Shard.Contains(p.NEVRA()) {
			filtered++
			continue
		}
		key := p.Key()
		locations := lo.Uniq(lo.Map(byKey[key], func(p metadata.Package, _ int) string { return p.Location }))
		if len(locations) > 1 {
			out[key] = RpmObject{Package: p, Err: objectError(KindDuplicate, key.String(),
				fmt.Errorf("%w: %s", ErrDuplicateRPM, strings.Join(locations, ", ")))}
			continue
		}
		todo = append(todo, p)
	}

	objs := make([]RpmObject, len(todo))
	var g errgroup.Group
	g.SetLimit(d.cfg.RPMConcurrency)
	for i, p := range todo {
		g.Go(func() error {
			objs[i] = d.resolveRPM(ctx, r.Entry, p, flight)
			return nil
		})
	}
	_ = g.Wait()

	for _, obj := range objs {
		out[obj.Package.Key()] = obj
	}
	return out, filtered
}

// flagMutations fails every successful RPM whose universe and NEVRA resolved
// to more than one content digest within the batch. All sides are flagged,
// so the outcome does not depend on download order.
func (d *Downloader) flagMutations(results []RpmResult) {
	digests := make(map[string][]string)
	for _, r := range results {
		for _, obj := range r.Rpms {
			if obj.Err == nil {
				k := nevraKey(r.Entry.Universe, obj.Package.NEVRA())
				digests[k] = append(digests[k], obj.ContentDigest)
			}
		}
	}
	for _, r := range results {
		for key, obj := range r.Rpms {
			if obj.Err != nil {
				continue
			}
			known := lo.Uniq(digests[nevraKey(r.Entry.Universe, obj.Package.NEVRA())])
			if len(known) < 2 {
				continue
			}
			others := lo.Without(known, obj.ContentDigest)
			sort.Strings(others)
			r.Rpms[key] = RpmObject{
				Package:       obj.Package,
				ContentDigest: obj.ContentDigest,
				Err:           d.mutable(r.Entry, obj.Package, obj.ContentDigest, others),
			}
		}
	}
}

func nevraKey(universe repo.Universe, nevra string) string {
	return string(universe) + "\x00" + nevra
}

// report counts failures and hands the repo's RPMs to the visitors.
func (d *Downloader) report(r RpmResult) {
	failed := 0
	for _, key := range sortedRpmKeys(r.Rpms) {
		obj := r.Rpms[key]
		if obj.Err != nil {
			failed++
			d.countError(obj.Err)
		}
		d.visitors.each(func(v Visitor) { v.VisitRpm(r.Entry, obj) })
	}
	d.logEntry(r.Entry).WithFields(logrus.Fields{
		"rpms": len(r.Rpms), "failed": failed, "filtered": r.Filtered,
	}).Info("rpms resolved")
}

func sortedRpmKeys(m map[metadata.PackageKey]RpmObject) []metadata.PackageKey {
	keys := lo.Keys(m)
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (d *Downloader) resolveRPM(ctx context.Context, e repo.Entry, p metadata.Package, flight *singleflight.Group) RpmObject {
	obj := RpmObject{Package: p}
	nevra := p.NEVRA()
	object := p.Key().String()

	rows, err := d.index.LookupRPMs(ctx, e.Universe, nevra)
	if err != nil {
		obj.Err = objectError(KindDatabase, object, err)
		return obj
	}
	if row, ok := d.dedupRPM(ctx, p, rows); ok {
		d.metrics.DedupHits.WithLabelValues("rpm").Inc()
		obj.StorageID = row.StorageID
		obj.ContentDigest = row.ContentDigest
		obj.Deduped = true
		return obj
	}

	url, err := e.Repo.URL(p.Location)
	if err != nil {
		obj.Err = objectError(KindParse, object, err)
		return obj
	}
	v, err, _ := flight.Do(url, func() (interface{}, error) {
		return d.fetcher.Fetch(ctx, url)
	})
	if err != nil {
		obj.Err = objectError(KindTransport, url, err)
		return obj
	}
	data := v.([]byte)
	if int64(len(data)) != p.SizePackage {
		obj.Err = objectError(KindChecksum, object,
			fmt.Errorf("%w: declared %d, got %d", ErrSizeMismatch, p.SizePackage, len(data)))
		return obj
	}
	if err := p.Checksum.Verify(data); err != nil {
		obj.Err = objectError(KindChecksum, object, err)
		return obj
	}

	contentDigest := digest.Canonical.FromBytes(data).String()
	known := lo.Uniq(lo.Map(rows, func(r repodb.RpmRow, _ int) string { return r.ContentDigest }))
	if lo.SomeBy(known, func(k string) bool { return k != contentDigest }) {
		obj.Err = d.mutable(e, p, contentDigest, known)
		return obj
	}
	if d.cfg.VerifyHeaders {
		if err := inspector.VerifyHeader(data, p); err != nil {
			obj.Err = objectError(KindHeader, object, err)
			return obj
		}
	}

	obj.ContentDigest = contentDigest
	if id, ok := d.storedContent(ctx, rows, contentDigest); ok {
		obj.StorageID = id
		return obj
	}
	id, err := d.store.Put(ctx, data)
	if err != nil {
		obj.Err = objectError(KindStorage, object, err)
		return obj
	}
	d.metrics.StoredBlobs.WithLabelValues("rpm").Inc()
	obj.StorageID = id
	return obj
}

// dedupRPM returns a recorded row for exactly this identity whose blob is
// still present.
func (d *Downloader) dedupRPM(ctx context.Context, p metadata.Package, rows []repodb.RpmRow) (repodb.RpmRow, bool) {
	checksum := p.Checksum.String()
	for _, row := range rows {
		if row.Checksum != checksum || row.Size != p.SizePackage {
			continue
		}
		if ok, err := d.store.Exists(ctx, row.StorageID); err == nil && ok {
			return row, true
		}
	}
	return repodb.RpmRow{}, false
}

// storedContent finds a stored blob for the same bytes under another declared checksum.
func (d *Downloader) storedContent(ctx context.Context, rows []repodb.RpmRow, contentDigest string) (string, bool) {
	for _, row := range rows {
		if row.ContentDigest != contentDigest {
			continue
		}
		if ok, err := d.store.Exists(ctx, row.StorageID); err == nil && ok {
			return row.StorageID, true
		}
	}
	return "", false
}

func (d *Downloader) mutable(e repo.Entry, p metadata.Package, got string, known []string) error {
	d.metrics.MutableRPMs.Inc()
	err := &MutableRPMError{
		Universe: string(e.Universe),
		NEVRA:    p.NEVRA(),
		Checksum: p.Checksum.String(),
		Got:      got,
		Known:    known,
	}
	d.logEntry(e).WithError(err).Error("upstream RPM changed without a NEVRA bump")
	return objectError(KindMutable, p.Key().String(), err)
}
