// Package digest implements the hashing reader (C1): a wrapper that streams
// bytes through SHA-256 and optionally checks the final sum against an
// expected hex digest at EOF.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/pkg/errors"
)

// Size is the byte length of a Digest.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 sum.
type Digest [Size]byte

// String renders the digest as 64 lowercase hex characters.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest (no checksum present).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Equal reports whether two digests hold the same bytes.
func (d Digest) Equal(o Digest) bool {
	return d == o
}

// Parse decodes a 64-character lowercase hex string into a Digest.
func Parse(hexDigest string) (Digest, error) {
	var d Digest
	if len(hexDigest) != Size*2 {
		return d, errors.Errorf("digest: wrong length %d, want %d", len(hexDigest), Size*2)
	}
	b, err := hex.DecodeString(hexDigest)
	if err != nil {
		return d, errors.Wrap(err, "digest: invalid hex")
	}
	copy(d[:], b)
	return d, nil
}

// ChecksumMismatchError is returned from Read when the computed digest
// disagrees with the Reader's configured expected digest. It carries both
// values so callers/log lines can report expected vs. calculated, per spec.
type ChecksumMismatchError struct {
	Expected   string
	Calculated string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected: %s, calculated: %s", e.Expected, e.Calculated)
}

// Reader wraps an io.Reader, feeding every byte it returns through SHA-256.
// If NewExpecting was used, the first zero-byte (EOF) read compares the
// running digest to the expected value and returns ChecksumMismatchError on
// a mismatch, from that very Read call rather than from Sum.
type Reader struct {
	r        io.Reader
	h        hash.Hash
	expected string // hex, empty means "no expectation configured"
	checked  bool
	mismatch error // sticky once produced
}

// New wraps r with a plain hashing reader; no expected digest is enforced.
func New(r io.Reader) (*Reader, error) {
	return newReader(r, "")
}

// NewExpecting wraps r, enforcing that the final digest equals expectedHex
// (64 lowercase hex characters) once the source reaches EOF.
func NewExpecting(r io.Reader, expectedHex string) (*Reader, error) {
	return newReader(r, expectedHex)
}

func newReader(r io.Reader, expectedHex string) (*Reader, error) {
	h := sha256.New()
	if h == nil {
		return nil, errors.New("digest: failed to initialize sha256 hasher")
	}
	return &Reader{r: r, h: h, expected: expectedHex}, nil
}

// Read implements io.Reader. Every byte successfully read from the wrapped
// source is hashed before being returned to the caller.
func (hr *Reader) Read(p []byte) (int, error) {
	if hr.mismatch != nil {
		return 0, hr.mismatch
	}
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
	}
	if err == io.EOF {
		if mismatchErr := hr.checkExpected(); mismatchErr != nil {
			hr.mismatch = mismatchErr
			return n, mismatchErr
		}
	}
	return n, err
}

func (hr *Reader) checkExpected() error {
	if hr.checked || hr.expected == "" {
		return nil
	}
	hr.checked = true
	calculated := hex.EncodeToString(hr.h.Sum(nil))
	if calculated != hr.expected {
		return &ChecksumMismatchError{Expected: hr.expected, Calculated: calculated}
	}
	return nil
}

// Sum returns the digest of all bytes read so far. It is idempotent and
// safe to call multiple times, including after a mismatch was reported.
func (hr *Reader) Sum() Digest {
	var d Digest
	copy(d[:], hr.h.Sum(nil))
	return d
}

// Finalize is an alias for Sum kept for readability at call sites that read
// to EOF first and want the terminal digest.
func (hr *Reader) Finalize() Digest {
	return hr.Sum()
}
