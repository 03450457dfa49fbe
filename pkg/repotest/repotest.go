// Package repotest builds in-memory RPM repositories and serves them through
// httpmock, for tests of the download pipeline.
package repotest

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/jarcoal/httpmock"

	"github.com/e2llm/rpmrepo-snapshot/pkg/metadata"
	"github.com/e2llm/rpmrepo-snapshot/pkg/repo"
)

const (
	RepomdPath    = "repodata/repomd.xml"
	RepomdSigPath = "repodata/repomd.xml.asc"
)

// RPM is a fake package. Content stands in for the RPM file.
type RPM struct {
	Name    string
	Epoch   int
	Version string
	Release string
	Arch    string
	Content []byte
	// Location defaults to Packages/<name>-<version>-<release>.<arch>.rpm.
	Location string
}

// Repo describes a repository to build.
type Repo struct {
	BaseURL string
	// ChecksumType defaults to sha256.
	ChecksumType string
	RPMs         []RPM
	// Extra repodata roles and their uncompressed content.
	Extra     map[string][]byte
	Timestamp int64
	// OmitPrimary leaves primary out of repomd.xml.
	OmitPrimary bool
}

// Built is a rendered repository: every file by repo-relative path.
type Built struct {
	BaseURL     string
	Repomd      metadata.RepoMD
	Packages    []metadata.Package
	PrimaryHref string

	mu    sync.Mutex
	files map[string][]byte
}

// Build renders packages, primary.xml.gz and repomd.xml.
func (r Repo) Build() (*Built, error) {
	ct := r.ChecksumType
	if ct == "" {
		ct = "sha256"
	}
	ts := r.Timestamp
	if ts == 0 {
		ts = 1700000000
	}
	b := &Built{BaseURL: strings.TrimSuffix(r.BaseURL, "/"), files: make(map[string][]byte)}

	for _, rpm := range r.RPMs {
		sum, err := metadata.ComputeChecksum(rpm.Content, ct)
		if err != nil {
			return nil, err
		}
		loc := rpm.Location
		if loc == "" {
			loc = fmt.Sprintf("Packages/%s-%s-%s.%s.rpm", rpm.Name, rpm.Version, rpm.Release, rpm.Arch)
		}
		b.Packages = append(b.Packages, metadata.Package{
			Name:        rpm.Name,
			Arch:        rpm.Arch,
			Epoch:       rpm.Epoch,
			Version:     rpm.Version,
			Release:     rpm.Release,
			Checksum:    metadata.Checksum{Type: ct, Value: sum},
			SizePackage: int64(len(rpm.Content)),
			TimeBuild:   ts,
			Location:    loc,
		})
		b.files[loc] = rpm.Content
	}

	var data []metadata.RepoData
	if !r.OmitPrimary {
		xmlData, err := metadata.MarshalPrimary(b.Packages)
		if err != nil {
			return nil, err
		}
		rd, err := b.addRepodata(metadata.RolePrimary, xmlData, ct, ts)
		if err != nil {
			return nil, err
		}
		b.PrimaryHref = rd.Location.Href
		data = append(data, rd)
	}
	roles := make([]string, 0, len(r.Extra))
	for role := range r.Extra {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		rd, err := b.addRepodata(role, r.Extra[role], ct, ts)
		if err != nil {
			return nil, err
		}
		data = append(data, rd)
	}

	b.Repomd = metadata.RepoMD{Xmlns: metadata.RepoNamespace, Revision: fmt.Sprint(ts), Data: data}
	raw, err := metadata.MarshalRepoMD(b.Repomd)
	if err != nil {
		return nil, err
	}
	b.files[RepomdPath] = raw
	return b, nil
}

func (b *Built) addRepodata(role string, content []byte, ct string, ts int64) (metadata.RepoData, error) {
	gz, err := metadata.GzipBytes(content)
	if err != nil {
		return metadata.RepoData{}, err
	}
	sum, err := metadata.ComputeChecksum(gz, ct)
	if err != nil {
		return metadata.RepoData{}, err
	}
	openSum, err := metadata.ComputeChecksum(content, ct)
	if err != nil {
		return metadata.RepoData{}, err
	}
	href := fmt.Sprintf("repodata/%s-%s.xml.gz", sum, role)
	b.files[href] = gz
	return metadata.RepoData{
		Type:         role,
		Checksum:     metadata.Checksum{Type: ct, Value: sum},
		OpenChecksum: &metadata.Checksum{Type: ct, Value: openSum},
		Location:     metadata.Location{Href: href},
		Timestamp:    ts,
		Size:         int64(len(gz)),
		OpenSize:     int64(len(content)),
	}, nil
}

// URL returns the absolute URL of a repo-relative path.
func (b *Built) URL(rel string) string {
	return b.BaseURL + "/" + rel
}

// Entry returns a snapshot entry for this repo.
func (b *Built) Entry(name string, universe repo.Universe) repo.Entry {
	return repo.Entry{Repo: repo.Repo{Name: name, BaseURL: b.BaseURL}, Universe: universe}
}

// File returns the current content of a path.
func (b *Built) File(rel string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.files[rel]
}

// Set replaces or adds a file.
func (b *Built) Set(rel string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[rel] = data
}

// Delete makes a path answer 404.
func (b *Built) Delete(rel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, rel)
}

// Corrupt flips one byte of a file, keeping its length.
func (b *Built) Corrupt(rel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := append([]byte(nil), b.files[rel]...)
	if len(data) > 0 {
		data[len(data)/2] ^= 0xff
	}
	b.files[rel] = data
}

// Paths lists every file in the repo.
func (b *Built) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := make([]string, 0, len(b.files))
	for p := range b.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Register serves every file on mt. Responders read the files at request
// time, so later Set/Corrupt/Delete calls are visible. Unknown URLs get 404.
func (b *Built) Register(mt *httpmock.MockTransport) {
	mt.RegisterNoResponder(httpmock.NewStringResponder(404, "not found"))
	for _, p := range b.Paths() {
		b.register(mt, p)
	}
}

func (b *Built) register(mt *httpmock.MockTransport, rel string) {
	mt.RegisterResponder("GET", b.URL(rel), func(req *http.Request) (*http.Response, error) {
		data := b.File(rel)
		if data == nil {
			return httpmock.NewStringResponse(404, "not found"), nil
		}
		return httpmock.NewBytesResponse(200, data), nil
	})
}

// WriteTo writes the repo below dir, for file:// tests.
func (b *Built) WriteTo(dir string) error {
	for _, p := range b.Paths() {
		full := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, b.File(p), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Sign adds an armored detached signature of repomd.xml made by signer.
func (b *Built) Sign(signer *openpgp.Entity) error {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, signer, bytes.NewReader(b.File(RepomdPath)), nil); err != nil {
		return fmt.Errorf("sign repomd: %w", err)
	}
	b.Set(RepomdSigPath, buf.Bytes())
	return nil
}

// NewSigner creates a signing key and writes its armored public half to
// dir/<name>.asc, returning the entity and the key file path.
func NewSigner(dir, name string) (*openpgp.Entity, string, error) {
	entity, err := openpgp.NewEntity(name, "test", name+"@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, "", err
	}
	if err := entity.Serialize(w); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, name+".asc")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, "", err
	}
	return entity, path, nil
}
