// Package repo holds the value types describing what gets snapshotted:
// repositories, the universes they belong to, and shard filters.
package repo

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"
)

// Universe is an isolated package namespace. Repos in different universes never
// share dedup state, even when they publish identical packages.
type Universe string

// Validate rejects empty universes and ones containing whitespace.
func (u Universe) Validate() error {
	if u == "" {
		return fmt.Errorf("universe is required")
	}
	if strings.IndexFunc(string(u), unicode.IsSpace) >= 0 {
		return fmt.Errorf("universe %q contains whitespace", string(u))
	}
	return nil
}

// Repo is a named package repository.
type Repo struct {
	Name string
	// BaseURL is the directory containing repodata/ (http, https, file or s3).
	BaseURL string
	// GPGKeys are armored public key files; when set, repomd.xml must carry a valid detached signature.
	GPGKeys []string
}

// Entry pairs a repo with the universe it is snapshotted into.
type Entry struct {
	Repo     Repo
	Universe Universe
}

func (e Entry) String() string {
	return string(e.Universe) + "/" + e.Repo.Name
}

// Validate checks that the entry can be downloaded.
func (e Entry) Validate() error {
	if e.Repo.Name == "" {
		return fmt.Errorf("repo name is required")
	}
	if err := e.Universe.Validate(); err != nil {
		return fmt.Errorf("repo %s: %w", e.Repo.Name, err)
	}
	u, err := url.Parse(e.Repo.BaseURL)
	if err != nil {
		return fmt.Errorf("repo %s: base url: %w", e.Repo.Name, err)
	}
	switch u.Scheme {
	case "http", "https", "file", "s3":
	default:
		return fmt.Errorf("repo %s: unsupported base url scheme %q", e.Repo.Name, u.Scheme)
	}
	return nil
}

// URL resolves a repo-relative href (e.g. "repodata/repomd.xml") against the base URL.
// Absolute hrefs are returned as is.
func (r Repo) URL(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", href, err)
	}
	if ref.IsAbs() {
		return href, nil
	}
	base, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", r.BaseURL, err)
	}
	clean := path.Clean("/" + ref.Path)
	base.Path = strings.TrimSuffix(base.Path, "/") + clean
	base.RawPath = ""
	return base.String(), nil
}
