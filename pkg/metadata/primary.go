package metadata

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

const (
	CommonNamespace = "http://linux.duke.edu/metadata/common"
	RpmNamespace    = "http://linux.duke.edu/metadata/rpm"
)

// Package is one RPM reference from primary metadata.
type Package struct {
	Name        string
	Arch        string
	Epoch       int
	Version     string
	Release     string
	Checksum    Checksum
	SizePackage int64
	TimeBuild   int64
	Location    string
}

func (p Package) NEVRA() string {
	epochPart := ""
	if p.Epoch > 0 {
		epochPart = fmt.Sprintf("%d:", p.Epoch)
	}
	return fmt.Sprintf("%s-%s%s-%s.%s", p.Name, epochPart, p.Version, p.Release, p.Arch)
}

// Key is the identity a package is tracked under in a snapshot.
func (p Package) Key() PackageKey {
	return PackageKey{NEVRA: p.NEVRA(), Checksum: p.Checksum.String()}
}

// PackageKey identifies an RPM by NEVRA plus declared checksum.
type PackageKey struct {
	NEVRA    string
	Checksum string
}

func (k PackageKey) String() string {
	return k.NEVRA + "@" + k.Checksum
}

type primaryXML struct {
	XMLName  xml.Name         `xml:"metadata"`
	Xmlns    string           `xml:"xmlns,attr"`
	XmlnsRpm string           `xml:"xmlns:rpm,attr"`
	Count    int              `xml:"packages,attr"`
	Packages []primaryPackage `xml:"package"`
}

type primaryPackage struct {
	Type     string         `xml:"type,attr"`
	Name     string         `xml:"name"`
	Arch     string         `xml:"arch"`
	Version  rpmVersion     `xml:"version"`
	Checksum rpmPkgChecksum `xml:"checksum"`
	Time     primaryTime    `xml:"time"`
	Size     primarySize    `xml:"size"`
	Location Location       `xml:"location"`
}

type primaryTime struct {
	File  int64 `xml:"file,attr,omitempty"`
	Build int64 `xml:"build,attr,omitempty"`
}

type primarySize struct {
	Package   int64 `xml:"package,attr"`
	Installed int64 `xml:"installed,attr,omitempty"`
	Archive   int64 `xml:"archive,attr,omitempty"`
}

type rpmPkgChecksum struct {
	Type  string `xml:"type,attr"`
	PkgID string `xml:"pkgid,attr"`
	Value string `xml:",chardata"`
}

type rpmVersion struct {
	Epoch string `xml:"epoch,attr,omitempty"`
	Ver   string `xml:"ver,attr"`
	Rel   string `xml:"rel,attr"`
}

// ParsePrimary parses uncompressed primary XML into package references.
// Every package must carry a name, version, arch, location and a valid checksum.
func ParsePrimary(data []byte) ([]Package, error) {
	var doc primaryXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse primary: %w", err)
	}
	pkgs := make([]Package, 0, len(doc.Packages))
	for i, p := range doc.Packages {
		pkg, err := packageFromPrimary(p)
		if err != nil {
			return nil, fmt.Errorf("parse primary: package %d (%s): %w", i, p.Name, err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

func packageFromPrimary(p primaryPackage) (Package, error) {
	epoch, err := parseEpoch(p.Version.Epoch)
	if err != nil {
		return Package{}, err
	}
	pkg := Package{
		Name:        strings.TrimSpace(p.Name),
		Arch:        strings.TrimSpace(p.Arch),
		Epoch:       epoch,
		Version:     p.Version.Ver,
		Release:     p.Version.Rel,
		Checksum:    Checksum{Type: p.Checksum.Type, Value: p.Checksum.Value}.normalized(),
		SizePackage: p.Size.Package,
		TimeBuild:   p.Time.Build,
		Location:    p.Location.Href,
	}
	switch {
	case pkg.Name == "" || pkg.Version == "" || pkg.Arch == "":
		return Package{}, fmt.Errorf("incomplete NEVRA %q", pkg.NEVRA())
	case pkg.Location == "":
		return Package{}, fmt.Errorf("missing location")
	case pkg.SizePackage < 0:
		return Package{}, fmt.Errorf("negative size %d", pkg.SizePackage)
	}
	if err := pkg.Checksum.Validate(); err != nil {
		return Package{}, err
	}
	return pkg, nil
}

// MarshalPrimary renders package references as primary XML.
func MarshalPrimary(pkgs []Package) ([]byte, error) {
	out := primaryXML{
		Xmlns:    CommonNamespace,
		XmlnsRpm: RpmNamespace,
		Count:    len(pkgs),
	}
	for _, p := range pkgs {
		out.Packages = append(out.Packages, primaryPackage{
			Type: "rpm",
			Name: p.Name,
			Arch: p.Arch,
			Version: rpmVersion{
				Epoch: strconv.Itoa(p.Epoch),
				Ver:   p.Version,
				Rel:   p.Release,
			},
			Checksum: rpmPkgChecksum{
				Type:  p.Checksum.Type,
				PkgID: "YES",
				Value: p.Checksum.Value,
			},
			Time:     primaryTime{Build: p.TimeBuild},
			Size:     primarySize{Package: p.SizePackage},
			Location: Location{Href: p.Location},
		})
	}
	body, err := xml.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

func parseEpoch(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("invalid epoch %q", s)
	}
	return i, nil
}
