package metadata

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func samplePackage() Package {
	sum, _ := ComputeChecksum([]byte("foo-rpm"), "sha256")
	return Package{
		Name:        "foo",
		Arch:        "x86_64",
		Epoch:       2,
		Version:     "1.0",
		Release:     "1.el9",
		Checksum:    Checksum{Type: "sha256", Value: sum},
		SizePackage: 7,
		TimeBuild:   1700000000,
		Location:    "Packages/f/foo-1.0-1.el9.x86_64.rpm",
	}
}

func TestPrimaryRoundTrip(t *testing.T) {
	in := []Package{samplePackage()}
	data, err := MarshalPrimary(in)
	if err != nil {
		t.Fatalf("MarshalPrimary: %v", err)
	}
	out, err := ParsePrimary(data)
	if err != nil {
		t.Fatalf("ParsePrimary: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 package, got %d", len(out))
	}
	if out[0] != in[0] {
		t.Fatalf("got %+v, want %+v", out[0], in[0])
	}
	if got := out[0].NEVRA(); got != "foo-2:1.0-1.el9.x86_64" {
		t.Fatalf("NEVRA = %q", got)
	}
}

func TestParsePrimaryRejectsBadPackages(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Package)
	}{
		{"no location", func(p *Package) { p.Location = "" }},
		{"no name", func(p *Package) { p.Name = "" }},
		{"bad checksum type", func(p *Package) { p.Checksum.Type = "crc32" }},
		{"short checksum", func(p *Package) { p.Checksum.Value = "abcd" }},
	}
	for _, tt := range tests {
		p := samplePackage()
		tt.mutate(&p)
		data, err := MarshalPrimary([]Package{p})
		if err != nil {
			t.Fatalf("%s: MarshalPrimary: %v", tt.name, err)
		}
		if _, err := ParsePrimary(data); err == nil {
			t.Errorf("%s: expected parse error", tt.name)
		}
	}
}

func TestParsePrimaryGarbage(t *testing.T) {
	if _, err := ParsePrimary([]byte("<metadata><package>")); err == nil {
		t.Fatal("expected error for truncated XML")
	}
}

func TestParseRepoMD(t *testing.T) {
	md := RepoMD{
		Revision: "1",
		Data: []RepoData{
			{Type: "primary", Checksum: Checksum{Type: "SHA256", Value: " ABCD \n"}, Location: Location{Href: "repodata/p.xml.gz"}},
			{Type: "other", Checksum: Checksum{Type: "sha", Value: "00"}, Location: Location{Href: "repodata/o.xml.gz"}},
		},
	}
	raw, err := MarshalRepoMD(md)
	if err != nil {
		t.Fatalf("MarshalRepoMD: %v", err)
	}
	got, err := ParseRepoMD(raw)
	if err != nil {
		t.Fatalf("ParseRepoMD: %v", err)
	}
	p := got.Find(RolePrimary)
	if p == nil {
		t.Fatal("primary not found")
	}
	if p.Checksum.Type != "sha256" || p.Checksum.Value != "abcd" {
		t.Fatalf("checksum not normalized: %+v", p.Checksum)
	}
	if o := got.Find("other"); o == nil || o.Checksum.Type != "sha1" {
		t.Fatalf("expected sha to normalize to sha1, got %+v", o)
	}
	if got.Find("filelists") != nil {
		t.Fatal("unexpected filelists entry")
	}
}

func TestParseRepoMDInvalid(t *testing.T) {
	tests := map[string]string{
		"not xml":      "not xml at all",
		"no location":  `<repomd><data type="primary"><checksum type="sha256">00</checksum></data></repomd>`,
		"no type":      `<repomd><data><location href="a"/></data></repomd>`,
		"duplicate":    `<repomd><data type="a"><location href="a"/></data><data type="a"><location href="b"/></data></repomd>`,
	}
	for name, doc := range tests {
		if _, err := ParseRepoMD([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestChecksum(t *testing.T) {
	data := []byte("hello")
	c, err := ParseChecksum("sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	if err != nil {
		t.Fatalf("ParseChecksum: %v", err)
	}
	if err := c.Verify(data); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := c.Verify([]byte("hellO")); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
	if c.String() != "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("String() = %s", c)
	}

	legacy, err := ParseChecksum("sha:aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d")
	if err != nil {
		t.Fatalf("ParseChecksum(sha): %v", err)
	}
	if legacy.Type != "sha1" {
		t.Fatalf("expected sha1, got %s", legacy.Type)
	}
	if err := legacy.Verify(data); err != nil {
		t.Fatalf("Verify(sha1): %v", err)
	}

	for _, bad := range []string{"nocolon", "sha256:xyz", "whirlpool:00", "sha256:abcd"} {
		if _, err := ParseChecksum(bad); err == nil {
			t.Errorf("ParseChecksum(%q): expected error", bad)
		}
	}
}

func TestComputeChecksumSHA512(t *testing.T) {
	sum, err := ComputeChecksum([]byte("x"), "SHA512")
	if err != nil {
		t.Fatalf("ComputeChecksum: %v", err)
	}
	if len(sum) != 128 {
		t.Fatalf("expected 128 hex chars, got %d", len(sum))
	}
	if SupportedChecksum("crc32") {
		t.Fatal("crc32 should not be supported")
	}
}

func TestDecompress(t *testing.T) {
	payload := []byte(strings.Repeat("<metadata/>", 50))

	gz, err := GzipBytes(payload)
	if err != nil {
		t.Fatalf("GzipBytes: %v", err)
	}

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatalf("xz.NewWriter: %v", err)
	}
	if _, err := xw.Write(payload); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	zst := enc.EncodeAll(payload, nil)
	_ = enc.Close()

	tests := []struct {
		href string
		data []byte
	}{
		{"repodata/primary.xml.gz", gz},
		{"repodata/primary.xml.xz", xzBuf.Bytes()},
		{"repodata/primary.xml.zst", zst},
		{"repodata/primary.xml", payload},
	}
	for _, tt := range tests {
		got, err := Decompress(tt.href, tt.data)
		if err != nil {
			t.Errorf("Decompress(%s): %v", tt.href, err)
			continue
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Decompress(%s) returned %d bytes, want %d", tt.href, len(got), len(payload))
		}
	}

	if _, err := Decompress("repodata/primary.xml.gz", []byte("not gzip")); err == nil {
		t.Fatal("expected error for corrupt gzip")
	}
}
