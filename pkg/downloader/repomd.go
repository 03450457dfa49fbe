package downloader

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

const (
	repomdHref    = "repodata/repomd.xml"
	repomdSigHref = "repodata/repomd.xml.asc"
)

// Repomd is a fetched and parsed repomd.xml.
type Repomd struct {
	Metadata metadata.RepoMD
	// Raw is the document exactly as served.
	Raw []byte
	// Checksum is the canonical digest of Raw.
	Checksum  string
	FetchedAt time.Time
}

// RepomdResult is the outcome for one repo. Err is fatal for the repo.
type RepomdResult struct {
	Entry  repo.Entry
	Repomd *Repomd
	Err    error
}

// DownloadRepomds fetches repomd.xml for every entry. Results are in input order.
func (d *Downloader) DownloadRepomds(ctx context.Context, entries []repo.Entry) []RepomdResult {
	results := make([]RepomdResult, len(entries))
	var g errgroup.Group
	g.SetLimit(d.cfg.RepoConcurrency)
	for i, e := range entries {
		g.Go(func() error {
			md, err := d.downloadRepomd(ctx, e)
			d.countError(err)
			results[i] = RepomdResult{Entry: e, Repomd: md, Err: err}
			d.visitors.each(func(v Visitor) { v.VisitRepomd(results[i]) })
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Downloader) downloadRepomd(ctx context.Context, e repo.Entry) (*Repomd, error) {
	if err := e.Validate(); err != nil {
		return nil, objectError(KindParse, e.String(), err)
	}
	url, err := e.Repo.URL(repomdHref)
	if err != nil {
		return nil, objectError(KindParse, repomdHref, err)
	}
	raw, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, objectError(KindTransport, url, err)
	}
	if len(e.Repo.GPGKeys) > 0 {
		if err := d.verifyRepomdSignature(ctx, e, raw); err != nil {
			return nil, err
		}
	}
	md, err := metadata.ParseRepoMD(raw)
	if err != nil {
		return nil, objectError(KindParse, url, err)
	}
	d.logEntry(e).WithField("entries", len(md.Data)).Debug("repomd parsed")
	return &Repomd{
		Metadata:  md,
		Raw:       raw,
		Checksum:  digest.Canonical.FromBytes(raw).String(),
		FetchedAt: d.cfg.Now().UTC(),
	}, nil
}

func (d *Downloader) verifyRepomdSignature(ctx context.Context, e repo.Entry, raw []byte) error {
	url, err := e.Repo.URL(repomdSigHref)
	if err != nil {
		return objectError(KindParse, repomdSigHref, err)
	}
	sig, err := d.fetcher.Fetch(ctx, url)
	if err != nil {
		return objectError(KindTransport, url, err)
	}
	keyring, err := loadKeyRing(e.Repo.GPGKeys)
	if err != nil {
		return objectError(KindSignature, url, err)
	}
	if err := verifyDetached(keyring, raw, sig); err != nil {
		return objectError(KindSignature, url, err)
	}
	return nil
}

// loadKeyRing reads armored public keys from local files.
func loadKeyRing(paths []string) (openpgp.EntityList, error) {
	var keyring openpgp.EntityList
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read gpg key: %w", err)
		}
		keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse gpg key %s: %w", p, err)
		}
		keyring = append(keyring, keys...)
	}
	return keyring, nil
}

func verifyDetached(keyring openpgp.KeyRing, signed, signature []byte) error {
	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(signed), bytes.NewReader(signature), nil); err != nil {
		return fmt.Errorf("verify repomd signature: %w", err)
	}
	return nil
}
