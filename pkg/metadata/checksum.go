package metadata

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// ErrChecksumMismatch is wrapped by Checksum.Verify on a digest mismatch.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Checksum is a declared digest as it appears in repomd and primary XML.
type Checksum struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// ParseChecksum parses the "algo:hex" form produced by String.
func ParseChecksum(s string) (Checksum, error) {
	algo, value, ok := strings.Cut(s, ":")
	if !ok {
		return Checksum{}, fmt.Errorf("checksum %q is not of the form algo:hex", s)
	}
	c := Checksum{Type: algo, Value: value}.normalized()
	if err := c.Validate(); err != nil {
		return Checksum{}, err
	}
	return c, nil
}

func (c Checksum) String() string {
	return c.Type + ":" + c.Value
}

// normalized lowercases, trims and maps the legacy "sha" name to sha1.
func (c Checksum) normalized() Checksum {
	return Checksum{
		Type:  NormalizeAlgorithm(c.Type),
		Value: strings.ToLower(strings.TrimSpace(c.Value)),
	}
}

// Validate checks that the algorithm is supported and the value is hex of the right length.
func (c Checksum) Validate() error {
	h, err := newHash(c.Type)
	if err != nil {
		return err
	}
	raw, err := hex.DecodeString(c.Value)
	if err != nil {
		return fmt.Errorf("checksum value %q is not hex", c.Value)
	}
	if len(raw) != h.Size() {
		return fmt.Errorf("%s checksum %q has wrong length", c.Type, c.Value)
	}
	return nil
}

// Verify computes the digest of data with the declared algorithm and compares it.
func (c Checksum) Verify(data []byte) error {
	sum, err := ComputeChecksum(data, c.Type)
	if err != nil {
		return err
	}
	if sum != c.Value {
		return fmt.Errorf("%w: expected %s got %s:%s", ErrChecksumMismatch, c, c.Type, sum)
	}
	return nil
}

// NormalizeAlgorithm maps repo checksum type names onto canonical hash names.
func NormalizeAlgorithm(alg string) string {
	alg = strings.ToLower(strings.TrimSpace(alg))
	if alg == "sha" {
		return "sha1"
	}
	return alg
}

func newHash(alg string) (hash.Hash, error) {
	switch NormalizeAlgorithm(alg) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha224":
		return sha256.New224(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", alg)
	}
}

// ComputeChecksum returns the lowercase hex digest of data.
func ComputeChecksum(data []byte, alg string) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SupportedChecksum reports whether the algorithm can be verified.
func SupportedChecksum(alg string) bool {
	_, err := newHash(alg)
	return err == nil
}
