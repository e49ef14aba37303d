// Package manifest implements the manifest parser (C3): the plaintext
// mapping of payload filename to expected SHA-256 digest that travels
// inside every artifact, plus the digest of the manifest bytes themselves
// (the thing the detached signature, if any, is computed over).
package manifest

import (
	"bufio"
	"bytes"
	"io"
	"regexp"

	"github.com/pkg/errors"

	"github.com/mender-core/agent/internal/compression"
	"github.com/mender-core/agent/internal/digest"
	"github.com/mender-core/agent/internal/logging"
)

var log = logging.For("manifest")

// maxFilenameLen bounds the filename portion of a manifest line, checked
// before the regex runs so a pathological line can't drive regex cost up.
const maxFilenameLen = 100

// maxLineLen is 64 (hex digest) + 2 (separator spaces) + maxFilenameLen.
const maxLineLen = digest.Size*2 + 2 + maxFilenameLen

var lineRE = regexp.MustCompile(`^([0-9a-f]{64}) {2}(\S+)$`)

// ParseError reports a malformed manifest line.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return "manifest: parse error: " + e.Reason + ": " + e.Line
}

// Manifest is the parsed mapping of payload name (compression suffix
// stripped) to expected digest, plus the digest of the manifest bytes and
// the exact bytes themselves (the signature, if any, is computed over Raw).
type Manifest struct {
	Entries map[string]digest.Digest
	Sum     digest.Digest
	Raw     []byte
}

// Parse reads the full manifest body from r (manifests are small, so this
// buffers fully rather than streaming line by line against I/O), splitting
// on newline and populating the name->digest mapping. The returned Sum is
// the SHA-256 of the exact bytes read, independent of line parsing, so it
// remains authoritative even over blank or skipped lines.
func Parse(r io.Reader) (*Manifest, error) {
	hr, err := digest.New(r)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: failed to initialize hashing reader")
	}
	raw, err := io.ReadAll(hr)
	if err != nil {
		return nil, errors.Wrap(err, "manifest: i/o error while reading")
	}

	entries := make(map[string]digest.Digest)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	// Buffer strictly larger than maxLineLen so an over-limit line is still
	// handed to Scan (and falls into the explicit length check below)
	// instead of bufio.Scanner rejecting it first with ErrTooLong.
	scanner.Buffer(make([]byte, 0, maxLineLen+2), maxLineLen+2)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(line) > maxLineLen {
			return nil, &ParseError{Line: line, Reason: "line exceeds max filename length"}
		}
		m := lineRE.FindStringSubmatch(line)
		if m == nil {
			return nil, &ParseError{Line: line, Reason: "does not match '<sha256>  <name>' grammar"}
		}
		d, err := digest.Parse(m[1])
		if err != nil {
			return nil, &ParseError{Line: line, Reason: "invalid digest hex"}
		}
		name := compression.StripSuffix(m[2])
		if _, dup := entries[name]; dup {
			log.WithField("name", name).Debug("duplicate manifest entry, later wins")
		}
		entries[name] = d
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "manifest: i/o error while scanning")
	}

	return &Manifest{Entries: entries, Sum: hr.Sum(), Raw: raw}, nil
}

// Serialize renders the manifest back to its line-oriented wire form, in
// unspecified line order. Used to verify the parser's idempotence:
// Parse(Serialize(m)).Entries equals m.Entries (Sum and Raw may differ).
func (m *Manifest) Serialize() []byte {
	buf := make([]byte, 0, len(m.Entries)*96)
	for name, d := range m.Entries {
		buf = append(buf, d.String()...)
		buf = append(buf, "  "...)
		buf = append(buf, name...)
		buf = append(buf, '\n')
	}
	return buf
}
