// Package tarstream wraps stdlib archive/tar as a lazy, purely-forward
// sequence of entries (C2). It never seeks the underlying source and
// auto-discards any unread bytes of the current entry when the caller
// advances to the next one.
package tarstream

import (
	"archive/tar"
	"io"

	"github.com/pkg/errors"

	"github.com/mender-core/agent/internal/logging"
)

var log = logging.For("tarstream")

// Entry is one tar member: its name, declared size, and a read interface
// scoped to exactly that many bytes. The Entry is valid only until the next
// call to Reader.Next.
type Entry struct {
	Name string
	Size int64
	Body io.Reader
}

// Reader yields tar entries in archive order from an underlying byte
// source. It is purely forward: it never seeks.
type Reader struct {
	tr *tar.Reader
}

// New wraps r as a tar entry sequence.
func New(r io.Reader) *Reader {
	return &Reader{tr: tar.NewReader(r)}
}

// Next returns the next entry, or (nil, io.EOF) once the archive is
// exhausted. A malformed tar header is a fatal parse error. Advancing
// implicitly discards any unread bytes of the previous entry, since the
// underlying tar.Reader tracks its own read cursor per entry.
func (r *Reader) Next() (*Entry, error) {
	hdr, err := r.tr.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrap(err, "tarstream: malformed tar header")
	}
	log.WithField("name", hdr.Name).WithField("size", hdr.Size).Trace("read tar entry")
	return &Entry{Name: hdr.Name, Size: hdr.Size, Body: r.tr}, nil
}
