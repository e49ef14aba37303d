// Package artifact implements the Artifact Reader (C5): it orchestrates the
// hashing reader, tar stream reader, manifest parser, and header parser
// over the outer tar of a mender artifact, and exposes a lazy payload
// iterator whose bytes are hash-checked against the manifest as they are
// read.
package artifact

import (
	"io"

	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"

	"github.com/mender-core/agent/internal/header"
	"github.com/mender-core/agent/internal/logging"
	"github.com/mender-core/agent/internal/manifest"
	"github.com/mender-core/agent/internal/tarstream"
)

var log = logging.For("artifact")

// Option configures a Reader at construction time.
type Option func(*Reader)

// WithSignaturePolicy sets whether the manifest signature is verified.
func WithSignaturePolicy(policy SignaturePolicy) Option {
	return func(r *Reader) { r.sigPolicy = policy }
}

// WithVerifiers supplies the key set consulted when SignatureVerify is
// configured; success against any one key is success overall.
func WithVerifiers(verifiers ...Verifier) Option {
	return func(r *Reader) { r.verifiers = verifiers }
}

// WithScriptWriter configures where header.tar.gz state scripts are
// written; nil (the default) discards script bodies without writing them.
func WithScriptWriter(sw *header.ScriptWriter) Option {
	return func(r *Reader) { r.scripts = sw }
}

// Reader parses a single artifact from a byte source, in strict order:
// version, manifest, optional signature, header, then payloads.
type Reader struct {
	src   io.Reader
	outer *tarstream.Reader

	sigPolicy SignaturePolicy
	verifiers []Verifier
	scripts   *header.ScriptWriter

	version  *versionDoc
	manifest *manifest.Manifest
	sig      []byte
	header   *header.Result

	payloads *PayloadIterator
}

// NewReader constructs a Reader over r, which must be the raw, uncompressed
// ustar outer archive.
func NewReader(r io.Reader, opts ...Option) *Reader {
	ar := &Reader{src: r, sigPolicy: SignatureSkip}
	for _, opt := range opts {
		opt(ar)
	}
	ar.outer = tarstream.New(r)
	return ar
}

// ReadHeader runs steps 1-5 of the parse sequence: version, manifest,
// optional signature, header.tar.gz, and (if configured) signature
// verification. It must be called exactly once, before Payloads.
func (ar *Reader) ReadHeader() (*HeaderView, error) {
	if err := ar.readVersion(); err != nil {
		return nil, err
	}
	if err := ar.readManifest(); err != nil {
		return nil, err
	}
	nextName, err := ar.readOptionalSignature()
	if err != nil {
		return nil, err
	}
	if err := ar.readHeaderTar(nextName); err != nil {
		return nil, err
	}
	if err := ar.verifyIfConfigured(); err != nil {
		return nil, err
	}
	return &HeaderView{info: ar.header.Info, subHeaders: ar.header.SubHeaders}, nil
}

func (ar *Reader) readVersion() error {
	entry, err := ar.outer.Next()
	if err != nil {
		return errors.Wrap(err, "artifact: failed to read first entry")
	}
	if entry.Name != "version" {
		return structuralErrorf("expected 'version', got %q", entry.Name)
	}
	v, err := parseVersion(entry.Body)
	if err != nil {
		return err
	}
	ar.version = v
	return nil
}

func (ar *Reader) readManifest() error {
	entry, err := ar.outer.Next()
	if err != nil {
		return errors.Wrap(err, "artifact: failed to read entry after version")
	}
	if entry.Name != "manifest" {
		return structuralErrorf("expected 'manifest', got %q", entry.Name)
	}
	m, err := manifest.Parse(entry.Body)
	if err != nil {
		return err
	}
	ar.manifest = m
	return nil
}

// readOptionalSignature reads the optional manifest.sig entry. It returns
// whatever entry comes next (already fetched), since that next
// entry must be header.tar.gz regardless of whether a signature was present.
func (ar *Reader) readOptionalSignature() (*tarstream.Entry, error) {
	entry, err := ar.outer.Next()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: failed to read entry after manifest")
	}
	if entry.Name != "manifest.sig" {
		return entry, nil
	}
	sig, err := io.ReadAll(entry.Body)
	if err != nil {
		return nil, errors.Wrap(err, "artifact: failed to read manifest.sig")
	}
	ar.sig = sig

	next, err := ar.outer.Next()
	if err != nil {
		return nil, errors.Wrap(err, "artifact: failed to read entry after manifest.sig")
	}
	return next, nil
}

func (ar *Reader) readHeaderTar(entry *tarstream.Entry) error {
	if entry.Name != "header.tar.gz" {
		return structuralErrorf("expected 'header.tar.gz', got %q", entry.Name)
	}
	zr, err := pgzip.NewReader(entry.Body)
	if err != nil {
		return errors.Wrap(err, "artifact: failed to open header.tar.gz gzip stream")
	}
	defer zr.Close()

	res, err := header.Parse(zr, ar.scripts)
	if err != nil {
		return err
	}
	ar.header = res
	return nil
}

func (ar *Reader) verifyIfConfigured() error {
	if ar.sigPolicy != SignatureVerify {
		log.Debug("signature verification skipped by policy")
		return nil
	}
	if ar.sig == nil {
		return &SetupError{Reason: "verify_signature=Verify but artifact carries no manifest.sig entry"}
	}
	return verifySignature(ar.verifiers, ar.manifest.Raw, ar.sig)
}

// Payloads returns the lazy payload-chunk iterator (C5 step 6). ReadHeader
// must have succeeded first.
func (ar *Reader) Payloads() *PayloadIterator {
	if ar.payloads == nil {
		ar.payloads = newPayloadIterator(ar, ar.manifest, len(ar.header.Info.Payloads))
	}
	return ar.payloads
}

// nextOuterEntry implements outerNext for PayloadIterator.
func (ar *Reader) nextOuterEntry() (*tarstream.Entry, error) {
	return ar.outer.Next()
}
