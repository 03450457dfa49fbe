package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

// knownRoles are the repodata types createrepo and friends publish.
var knownRoles = map[string]struct{}{
	"primary": {}, "filelists": {}, "other": {},
	"primary_db": {}, "filelists_db": {}, "other_db": {},
	"primary_zck": {}, "filelists_zck": {}, "other_zck": {},
	"group": {}, "group_gz": {}, "group_xz": {}, "group_zck": {},
	"updateinfo": {}, "updateinfo_zck": {}, "modules": {},
	"prestodelta": {}, "deltainfo": {}, "productid": {},
}

// CheckResult captures warnings and an optional terminal error.
type CheckResult struct {
	Warnings []string `json:"warnings"`
	Err      error    `json:"-"`
}

// Check verifies that the latest committed snapshot of a repo is complete:
// every repodata and RPM it references is recorded and present in the store.
func (s *Snapshotter) Check(ctx context.Context, universe repo.Universe, repoName string) CheckResult {
	warnings, err := s.checkCollect(ctx, universe, repoName)
	for _, w := range warnings {
		s.log.WithField("repo", string(universe)+"/"+repoName).Warn(w)
	}
	return CheckResult{Warnings: warnings, Err: err}
}

func (s *Snapshotter) checkCollect(ctx context.Context, universe repo.Universe, repoName string) ([]string, error) {
	row, err := s.db.LatestRepomd(ctx, universe, repoName)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("no snapshot recorded for %s/%s", universe, repoName)
	}
	if got := digest.Canonical.FromBytes(row.Content).String(); got != row.Checksum {
		return nil, fmt.Errorf("recorded repomd content is %s, row says %s", got, row.Checksum)
	}
	md, err := metadata.ParseRepoMD(row.Content)
	if err != nil {
		return nil, fmt.Errorf("parse recorded repomd: %w", err)
	}

	var errs []error
	var warnings []string
	primary := md.Find(metadata.RolePrimary)
	if primary == nil {
		errs = append(errs, errors.New("missing primary metadata in repomd.xml"))
	}
	var primaryID string
	for _, d := range md.Data {
		if _, ok := knownRoles[d.Type]; !ok {
			warnings = append(warnings, fmt.Sprintf("unknown metadata type '%s' in repomd.xml", d.Type))
		}
		rd, err := s.db.LookupRepodata(ctx, d.Checksum.String())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if rd == nil {
			errs = append(errs, fmt.Errorf("repodata %s (%s) not recorded", d.Type, d.Checksum))
			continue
		}
		if d.Size != 0 && d.Size != rd.Size {
			errs = append(errs, fmt.Errorf("repodata %s size mismatch: repomd=%d recorded=%d", d.Type, d.Size, rd.Size))
		}
		ok, err := s.store.Exists(ctx, rd.StorageID)
		if err != nil {
			errs = append(errs, fmt.Errorf("exists %s: %w", rd.StorageID, err))
			continue
		}
		if !ok {
			errs = append(errs, fmt.Errorf("blob missing for repodata %s (%s)", d.Type, rd.StorageID))
			continue
		}
		if d.Type == metadata.RolePrimary {
			primaryID = rd.StorageID
		}
	}
	if primary == nil || primaryID == "" {
		return warnings, errors.Join(errs...)
	}

	data, err := s.store.Get(ctx, primaryID)
	if err != nil {
		return warnings, errors.Join(append(errs, fmt.Errorf("read primary: %w", err))...)
	}
	xmlData, err := metadata.Decompress(primary.Location.Href, data)
	if err != nil {
		return warnings, errors.Join(append(errs, fmt.Errorf("decompress primary: %w", err))...)
	}
	pkgs, err := metadata.ParsePrimary(xmlData)
	if err != nil {
		return warnings, errors.Join(append(errs, fmt.Errorf("parse primary: %w", err))...)
	}
	for _, p := range pkgs {
		if !s.shard.Contains(p.NEVRA()) {
			continue
		}
		if err := s.checkRPM(ctx, universe, p); err != nil {
			errs = append(errs, err)
		}
	}
	return warnings, errors.Join(errs...)
}

func (s *Snapshotter) checkRPM(ctx context.Context, universe repo.Universe, p metadata.Package) error {
	rows, err := s.db.LookupRPMs(ctx, universe, p.NEVRA())
	if err != nil {
		return err
	}
	checksum := p.Checksum.String()
	for _, r := range rows {
		if r.Checksum != checksum {
			continue
		}
		ok, err := s.store.Exists(ctx, r.StorageID)
		if err != nil {
			return fmt.Errorf("exists %s: %w", r.StorageID, err)
		}
		if !ok {
			return fmt.Errorf("blob missing for rpm %s (%s)", p.NEVRA(), r.StorageID)
		}
		return nil
	}
	return fmt.Errorf("rpm %s (%s) not recorded", p.NEVRA(), checksum)
}
