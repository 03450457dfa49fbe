package metadata

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Decompress inflates a repodata payload according to the extension of its location.
// Unknown extensions are returned unchanged.
func Decompress(href string, data []byte) ([]byte, error) {
	var (
		r   io.Reader
		err error
	)
	switch {
	case strings.HasSuffix(href, ".gz"):
		var gz *gzip.Reader
		gz, err = gzip.NewReader(bytes.NewReader(data))
		if err == nil {
			defer gz.Close()
			r = gz
		}
	case strings.HasSuffix(href, ".xz"):
		r, err = xz.NewReader(bytes.NewReader(data))
	case strings.HasSuffix(href, ".zst"):
		var zr *zstd.Decoder
		zr, err = zstd.NewReader(bytes.NewReader(data))
		if err == nil {
			defer zr.Close()
			r = zr
		}
	case strings.HasSuffix(href, ".bz2"):
		r = bzip2.NewReader(bytes.NewReader(data))
	default:
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", href, err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", href, err)
	}
	return out, nil
}

// GzipBytes compresses content with gzip.
func GzipBytes(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
