package downloader

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
)

// RepodataObject is one resolved repodata entry of a repomd.
type RepodataObject struct {
	Role      string
	Location  string
	Checksum  metadata.Checksum
	Size      int64
	Timestamp int64
	StorageID string
	// Deduped is set when the object was already recorded and stored.
	Deduped bool
	Err     error
}

// RepodataResult extends RepomdResult with every repodata object of the repo
// and the packages listed by its primary metadata. Err is fatal for the repo.
type RepodataResult struct {
	RepomdResult
	Repodata map[string]RepodataObject
	Packages []metadata.Package
}

// DownloadRepodatas resolves the repodata of every usable repomd. Failed
// repomds pass through with their error. Results are in input order.
func (d *Downloader) DownloadRepodatas(ctx context.Context, repomds []RepomdResult) []RepodataResult {
	results := make([]RepodataResult, len(repomds))
	var g errgroup.Group
	g.SetLimit(d.cfg.RepoConcurrency)
	for i, r := range repomds {
		results[i].RepomdResult = r
		if r.Err != nil || r.Repomd == nil {
			continue
		}
		g.Go(func() error {
			results[i] = d.downloadRepodatas(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Downloader) downloadRepodatas(ctx context.Context, r RepomdResult) RepodataResult {
	res := RepodataResult{RepomdResult: r}
	md := r.Repomd.Metadata
	primary := md.Find(metadata.RolePrimary)
	if primary == nil {
		res.Err = objectError(KindParse, repomdHref, ErrNoPrimary)
		d.countError(res.Err)
		return res
	}

	objs := make([]RepodataObject, len(md.Data))
	var primaryBytes []byte
	var g errgroup.Group
	g.SetLimit(d.cfg.RepodataConcurrency)
	for i, rd := range md.Data {
		g.Go(func() error {
			isPrimary := rd.Type == metadata.RolePrimary
			obj, data := d.resolveRepodata(ctx, r, rd, isPrimary)
			if isPrimary {
				primaryBytes = data
			}
			d.countError(obj.Err)
			objs[i] = obj
			d.visitors.each(func(v Visitor) { v.VisitRepodata(r.Entry, obj) })
			return nil
		})
	}
	_ = g.Wait()

	res.Repodata = make(map[string]RepodataObject, len(objs))
	for _, obj := range objs {
		res.Repodata[obj.Role] = obj
	}
	if err := res.Repodata[metadata.RolePrimary].Err; err != nil {
		res.Err = fmt.Errorf("primary: %w", err)
		return res
	}
	pkgs, err := parsePrimary(primary.Location.Href, primaryBytes)
	if err != nil {
		res.Err = objectError(KindParse, primary.Location.Href, err)
		d.countError(res.Err)
		return res
	}
	res.Packages = pkgs
	d.logEntry(r.Entry).WithFields(logrus.Fields{
		"repodata": len(objs), "packages": len(pkgs),
	}).Info("repodata resolved")
	return res
}

func parsePrimary(href string, data []byte) ([]metadata.Package, error) {
	xmlData, err := metadata.Decompress(href, data)
	if err != nil {
		return nil, err
	}
	return metadata.ParsePrimary(xmlData)
}

// resolveRepodata dedups or downloads one repodata entry. The bytes are
// returned only when wantBytes is set.
func (d *Downloader) resolveRepodata(ctx context.Context, r RepomdResult, rd metadata.RepoData, wantBytes bool) (RepodataObject, []byte) {
	obj := RepodataObject{
		Role:      rd.Type,
		Location:  rd.Location.Href,
		Checksum:  rd.Checksum,
		Size:      rd.Size,
		Timestamp: rd.Timestamp,
	}
	if err := rd.Checksum.Validate(); err != nil {
		obj.Err = objectError(KindChecksum, rd.Location.Href, err)
		return obj, nil
	}
	if id, data, ok := d.dedupRepodata(ctx, r, rd, wantBytes); ok {
		obj.StorageID = id
		obj.Deduped = true
		d.metrics.DedupHits.WithLabelValues("repodata").Inc()
		return obj, data
	}

	url, err := r.Entry.Repo.URL(rd.Location.Href)
	if err != nil {
		obj.Err = objectError(KindParse, rd.Location.Href, err)
		return obj, nil
	}
	data, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		obj.Err = objectError(KindTransport, url, err)
		return obj, nil
	}
	if rd.Size > 0 && int64(len(data)) != rd.Size {
		obj.Err = objectError(KindChecksum, rd.Location.Href,
			fmt.Errorf("%w: declared %d, got %d", ErrSizeMismatch, rd.Size, len(data)))
		return obj, nil
	}
	if err := rd.Checksum.Verify(data); err != nil {
		obj.Err = objectError(KindChecksum, rd.Location.Href, err)
		return obj, nil
	}
	id, err := d.store.Put(ctx, data)
	if err != nil {
		obj.Err = objectError(KindStorage, rd.Location.Href, err)
		return obj, nil
	}
	d.metrics.StoredBlobs.WithLabelValues("repodata").Inc()
	obj.StorageID = id
	if !wantBytes {
		data = nil
	}
	return obj, data
}

// dedupRepodata reports whether rd is already recorded with a stored blob.
// Lookup failures fall back to a download.
func (d *Downloader) dedupRepodata(ctx context.Context, r RepomdResult, rd metadata.RepoData, wantBytes bool) (string, []byte, bool) {
	log := d.logEntry(r.Entry).WithField("role", rd.Type)
	row, err := d.index.LookupRepodata(ctx, rd.Checksum.String())
	if err != nil {
		log.WithError(err).Warn("repodata lookup failed, downloading")
		return "", nil, false
	}
	if row == nil {
		return "", nil, false
	}
	if !wantBytes {
		ok, err := d.store.Exists(ctx, row.StorageID)
		if err != nil || !ok {
			return "", nil, false
		}
		return row.StorageID, nil, true
	}
	data, err := d.store.Get(ctx, row.StorageID)
	if err != nil {
		log.WithError(err).Debug("recorded repodata blob unusable, downloading")
		return "", nil, false
	}
	if err := rd.Checksum.Verify(data); err != nil {
		return "", nil, false
	}
	return row.StorageID, data, true
}
