package metadata

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const RepoNamespace = "http://linux.duke.edu/metadata/repo"

// Repodata roles with special meaning to the snapshot pipeline.
const (
	RolePrimary   = "primary"
	RolePrimaryDB = "primary_db"
)

type RepoMD struct {
	XMLName  xml.Name   `xml:"repomd"`
	Xmlns    string     `xml:"xmlns,attr"`
	Revision string     `xml:"revision"`
	Data     []RepoData `xml:"data"`
}

type RepoData struct {
	Type         string    `xml:"type,attr"`
	Checksum     Checksum  `xml:"checksum"`
	OpenChecksum *Checksum `xml:"open-checksum,omitempty"`
	Location     Location  `xml:"location"`
	Timestamp    int64     `xml:"timestamp"`
	Size         int64     `xml:"size"`
	OpenSize     int64     `xml:"open-size,omitempty"`
}

type Location struct {
	Href string `xml:"href,attr"`
}

// ParseRepoMD unmarshals repomd XML and validates the fields the downloader relies on.
func ParseRepoMD(data []byte) (RepoMD, error) {
	var md RepoMD
	if err := xml.Unmarshal(data, &md); err != nil {
		return RepoMD{}, err
	}
	seen := make(map[string]struct{}, len(md.Data))
	for i := range md.Data {
		d := &md.Data[i]
		d.Checksum = d.Checksum.normalized()
		if d.Type == "" {
			return RepoMD{}, fmt.Errorf("repodata entry %d has no type", i)
		}
		if _, dup := seen[d.Type]; dup {
			return RepoMD{}, fmt.Errorf("repodata type %q listed twice", d.Type)
		}
		seen[d.Type] = struct{}{}
		if strings.TrimSpace(d.Location.Href) == "" {
			return RepoMD{}, fmt.Errorf("repodata %q has no location", d.Type)
		}
	}
	return md, nil
}

// Find returns the entry for the given role, or nil.
func (md RepoMD) Find(role string) *RepoData {
	for i := range md.Data {
		if md.Data[i].Type == role {
			return &md.Data[i]
		}
	}
	return nil
}

func MarshalRepoMD(md RepoMD) ([]byte, error) {
	if md.Xmlns == "" {
		md.Xmlns = RepoNamespace
	}
	output, err := xml.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
