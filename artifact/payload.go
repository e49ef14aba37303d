package artifact

import (
	"fmt"
	"io"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"github.com/mender-core/agent/internal/digest"
	"github.com/mender-core/agent/internal/manifest"
	"github.com/mender-core/agent/internal/tarstream"
)

// Chunk is one file inside a payload's inner tar (data/NNNN.tar.gz). Body
// hash-checks itself against the manifest's expected digest as it is read;
// a mismatch surfaces from the last Read call at EOF, per the Hashing
// Reader contract (C1).
type Chunk struct {
	PayloadIndex int
	Name         string
	Size         int64
	Body         io.Reader
}

// outerNext is the minimal contract PayloadIterator needs from whatever is
// driving the outer tar (implemented by *Reader); kept narrow so tests can
// supply a fake without constructing a full Reader.
type outerNext interface {
	nextOuterEntry() (*tarstream.Entry, error)
}

// PayloadIterator lazily yields one payload chunk at a time. Once an
// error is returned, every subsequent call returns that same error: the
// parse is terminal.
type PayloadIterator struct {
	outer        outerNext
	manifest     *manifest.Manifest
	payloadCount int

	outerIndex  int // which data/NNNN.tar.gz we're currently inside, or about to open
	innerTar    *tarstream.Reader
	innerGzip   io.Closer
	current     *digest.Reader // hashing reader for the in-flight chunk, if any
	currentName string

	err error // sticky terminal error
}

func newPayloadIterator(outer outerNext, m *manifest.Manifest, payloadCount int) *PayloadIterator {
	return &PayloadIterator{outer: outer, manifest: m, payloadCount: payloadCount}
}

// Next returns the next chunk across all payloads, opening each
// data/NNNN.tar.gz in turn as the previous one is exhausted. EOF is
// returned once outerIndex == payloadCount and the outer tar has no more
// entries.
func (it *PayloadIterator) Next() (*Chunk, error) {
	if it.err != nil {
		return nil, it.err
	}

	if it.current != nil {
		if err := it.finalizeCurrent(); err != nil {
			it.err = err
			return nil, err
		}
	}

	for {
		if it.innerTar == nil {
			if err := it.openNextInner(); err != nil {
				if err == io.EOF {
					it.err = io.EOF
					return nil, io.EOF
				}
				it.err = err
				return nil, err
			}
		}

		entry, err := it.innerTar.Next()
		if err == io.EOF {
			it.closeInner()
			continue
		}
		if err != nil {
			it.err = errors.Wrap(err, "artifact: failed to read payload tar entry")
			return nil, it.err
		}

		name := entry.Name
		expected, ok := it.manifest.Entries[name]
		if !ok {
			it.err = structuralErrorf("payload file %q has no entry in the manifest", name)
			return nil, it.err
		}

		hr, err := digest.NewExpecting(entry.Body, expected.String())
		if err != nil {
			it.err = errors.Wrap(err, "artifact: failed to initialize payload hashing reader")
			return nil, it.err
		}
		it.current = hr
		it.currentName = name

		return &Chunk{
			PayloadIndex: it.outerIndex - 1,
			Name:         name,
			Size:         entry.Size,
			Body:         hr,
		}, nil
	}
}

// finalizeCurrent drains any unread bytes of the in-flight chunk, which
// forces its Hashing Reader to compare against the expected digest at EOF.
func (it *PayloadIterator) finalizeCurrent() error {
	_, err := io.Copy(io.Discard, it.current)
	it.current = nil
	if err != nil {
		return errors.Wrapf(err, "artifact: payload %q failed verification", it.currentName)
	}
	return nil
}

func (it *PayloadIterator) openNextInner() error {
	if it.outerIndex >= it.payloadCount {
		extra, err := it.outer.nextOuterEntry()
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return errors.Wrap(err, "artifact: failed to read entry after last payload")
		}
		return structuralErrorf("unexpected entry %q after the last declared payload", extra.Name)
	}
	entry, err := it.outer.nextOuterEntry()
	if err != nil {
		return errors.Wrap(err, "artifact: failed to read data entry")
	}
	wantName := dataEntryName(it.outerIndex)
	if entry.Name != wantName {
		return structuralErrorf("expected %q, got %q", wantName, entry.Name)
	}
	zr, err := pgzip.NewReader(entry.Body)
	if err != nil {
		return errors.Wrapf(err, "artifact: failed to open gzip stream for %s", entry.Name)
	}
	it.innerGzip = zr
	it.innerTar = tarstream.New(zr)
	it.outerIndex++
	return nil
}

func (it *PayloadIterator) closeInner() {
	if it.innerGzip != nil {
		it.innerGzip.Close()
	}
	it.innerGzip = nil
	it.innerTar = nil
}

func dataEntryName(index int) string {
	return fmt.Sprintf("data/%04d.tar.gz", index)
}
