// Package compression knows the three compression suffixes the manifest
// grammar recognizes (.gz, .xz, .zst) and offers two small, bounded
// utilities built around that knowledge: stripping a suffix for manifest
// name matching (required, C3), and handing back a decompressing reader for
// a payload whose original name carried one of these suffixes (optional
// convenience, not on the hash-verification hot path).
package compression

import (
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// recognized suffixes, checked longest-match-not-required (mutually
// exclusive per spec) in this fixed order.
var suffixes = []string{".gz", ".xz", ".zst"}

// StripSuffix removes exactly one trailing recognized compression suffix
// from name, if present. Names without a recognized suffix are returned
// unchanged.
func StripSuffix(name string) string {
	for _, suf := range suffixes {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSuffix(name, suf)
		}
	}
	return name
}

// Suffix returns the recognized compression suffix on name, or "" if none.
func Suffix(name string) string {
	for _, suf := range suffixes {
		if strings.HasSuffix(name, suf) {
			return suf
		}
	}
	return ""
}

// DecompressorFor returns a function that wraps r with the decompressing
// reader matching suffix (".gz", ".xz", or ".zst"), and true if suffix was
// recognized. The caller is responsible for draining/closing as needed;
// the zstd decoder in particular holds worker goroutines until Close.
func DecompressorFor(suffix string) (func(r io.Reader) (io.ReadCloser, error), bool) {
	switch suffix {
	case ".gz":
		return func(r io.Reader) (io.ReadCloser, error) {
			zr, err := pgzip.NewReader(r)
			if err != nil {
				return nil, errors.Wrap(err, "compression: failed to open gzip stream")
			}
			return zr, nil
		}, true
	case ".xz":
		return func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, errors.Wrap(err, "compression: failed to open xz stream")
			}
			return io.NopCloser(xr), nil
		}, true
	case ".zst":
		return func(r io.Reader) (io.ReadCloser, error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, errors.Wrap(err, "compression: failed to open zstd stream")
			}
			return zr.IOReadCloser(), nil
		}, true
	default:
		return nil, false
	}
}
