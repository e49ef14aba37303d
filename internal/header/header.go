// Package header implements the header parser (C4): it walks the inner,
// gzip-compressed tar that makes up an artifact's "header.tar.gz", decoding
// header-info, optional state scripts, and per-payload type-info/meta-data.
package header

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mender-core/agent/internal/logging"
	"github.com/mender-core/agent/internal/tarstream"
)

var log = logging.For("header")

// ParseError reports any structural violation while walking header.tar.gz:
// wrong entry name, out-of-order index, bad JSON, or the one-payload
// restriction.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "header: parse error: " + e.Reason }

func parseErrorf(format string, args ...interface{}) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Payload is one entry in header-info's payload list.
type Payload struct {
	Name string `json:"-"`
	Type string `json:"type"` // "null" (string) if the wire value was JSON null
}

// Provides is header-info's top-level "provides" object.
type Provides struct {
	ArtifactName  string `json:"artifact_name"`
	ArtifactGroup string `json:"artifact_group,omitempty"`
}

// Depends is header-info's top-level "depends" object.
type Depends struct {
	DeviceType    []string `json:"device_type"`
	ArtifactName  string   `json:"artifact_name,omitempty"`
	ArtifactGroup string   `json:"artifact_group,omitempty"`
}

// Info is the decoded header-info JSON document.
type Info struct {
	Payloads []Payload `json:"payloads"`
	Provides Provides  `json:"provides"`
	Depends  Depends   `json:"depends"`
}

func (i *Info) validate() error {
	if len(i.Payloads) == 0 {
		return parseErrorf("header-info: at least one payload is required")
	}
	if len(i.Depends.DeviceType) == 0 {
		return parseErrorf("header-info: depends.device_type must be non-empty")
	}
	return nil
}

// wirePayload decodes the raw payload JSON shape, where "type" may be the
// JSON literal null rather than a string.
type wirePayload struct {
	Type json.RawMessage `json:"type"`
}

func (i *Info) UnmarshalJSON(b []byte) error {
	type alias struct {
		Payloads []wirePayload `json:"payloads"`
		Provides Provides      `json:"provides"`
		Depends  Depends       `json:"depends"`
	}
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	i.Provides = a.Provides
	i.Depends = a.Depends
	i.Payloads = make([]Payload, len(a.Payloads))
	for idx, wp := range a.Payloads {
		i.Payloads[idx] = Payload{Type: decodeTypeField(wp.Type)}
	}
	return nil
}

func decodeTypeField(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "null"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "null"
	}
	return s
}

// TypeInfo is the per-payload "type-info" document.
type TypeInfo struct {
	Type                  string            `json:"type"`
	ArtifactProvides      map[string]string `json:"artifact_provides,omitempty"`
	ArtifactDepends       map[string]string `json:"artifact_depends,omitempty"`
	ClearsArtifactProvide []string          `json:"clears_artifact_provides,omitempty"`
	Raw                   json.RawMessage   `json:"-"`
}

func parseTypeInfo(b []byte) (*TypeInfo, error) {
	var wire struct {
		Type             json.RawMessage   `json:"type"`
		ArtifactProvides map[string]string `json:"artifact_provides"`
		ArtifactDepends  map[string]string `json:"artifact_depends"`
		Clears           []string          `json:"clears_artifact_provides"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, parseErrorf("type-info: invalid json: %s", err)
	}
	if len(wire.Type) == 0 {
		return nil, parseErrorf("type-info: 'type' field is required")
	}
	return &TypeInfo{
		Type:                  decodeTypeField(wire.Type),
		ArtifactProvides:      wire.ArtifactProvides,
		ArtifactDepends:       wire.ArtifactDepends,
		ClearsArtifactProvide: wire.Clears,
		Raw:                   append(json.RawMessage(nil), b...),
	}, nil
}

// MetaData is an arbitrary per-payload JSON object. An empty body is
// accepted and represented as a nil Value (the "null object" contract).
type MetaData struct {
	Value map[string]interface{}
}

// isEmptyBodyJSONError matches the standard library's exact phrasing for
// "zero bytes of input" so an intentionally-empty meta-data entry is never
// mistaken for a malformed one: "empty body == null object" is a contract,
// not an implementation accident.
func isEmptyBodyJSONError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unexpected end of JSON input")
}

func parseMetaData(b []byte) (*MetaData, error) {
	if len(b) == 0 {
		return &MetaData{}, nil
	}
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		if isEmptyBodyJSONError(err) {
			return &MetaData{}, nil
		}
		return nil, parseErrorf("meta-data: invalid json: %s", err)
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, parseErrorf("meta-data: top-level value must be a JSON object")
	}
	return &MetaData{Value: obj}, nil
}

// SubHeader bundles one payload's type-info and optional meta-data.
type SubHeader struct {
	TypeInfo *TypeInfo
	MetaData *MetaData
}

// Result is everything header.tar.gz yields: the top-level Info and one
// SubHeader per payload (only a single payload sub-header is currently
// supported).
type Result struct {
	Info       *Info
	SubHeaders []SubHeader
}

// ScriptWriter configures where state scripts are written: mode 0700,
// followed by a "version" file, with the directory fsync'd.
type ScriptWriter struct {
	Dir     string
	Version int
}

func (w *ScriptWriter) writeScript(name string, body io.Reader) error {
	if w == nil || w.Dir == "" {
		// No script directory configured: drain and discard, same as an
		// installer that chooses not to run state scripts.
		_, err := io.Copy(io.Discard, body)
		return err
	}
	path := filepath.Join(w.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0700)
	if err != nil {
		return errors.Wrapf(err, "header: failed to create script %s", path)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return errors.Wrapf(err, "header: failed to write script %s", path)
	}
	return nil
}

func (w *ScriptWriter) finalize() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	versionPath := filepath.Join(w.Dir, "version")
	if err := os.WriteFile(versionPath, []byte(strconv.Itoa(w.Version)), 0700); err != nil {
		return errors.Wrap(err, "header: failed to write scripts version file")
	}
	dirFd, err := os.Open(w.Dir)
	if err != nil {
		return errors.Wrap(err, "header: failed to open scripts dir for fsync")
	}
	defer dirFd.Close()
	if err := unix.Fsync(int(dirFd.Fd())); err != nil {
		return errors.Wrap(err, "header: failed to fsync scripts dir")
	}
	return nil
}

// Parse walks the inner tar (already gunzipped by the caller, e.g. via
// pgzip) and decodes header-info, scripts, and per-payload sub-headers, in
// that strict order.
func Parse(r io.Reader, scripts *ScriptWriter) (*Result, error) {
	tr := tarstream.New(r)

	entry, err := tr.Next()
	if err != nil {
		return nil, errors.Wrap(err, "header: failed to read first entry")
	}
	if entry.Name != "header-info" {
		return nil, parseErrorf("expected 'header-info', got %q", entry.Name)
	}
	body, err := io.ReadAll(entry.Body)
	if err != nil {
		return nil, errors.Wrap(err, "header: failed to read header-info body")
	}
	info := &Info{}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, parseErrorf("header-info: invalid json: %s", err)
	}
	if err := info.validate(); err != nil {
		return nil, err
	}

	wroteAnyScript := false
	for {
		entry, err = tr.Next()
		if err != nil {
			return nil, errors.Wrap(err, "header: failed to read entry after header-info")
		}
		if !strings.HasPrefix(entry.Name, "scripts/") {
			break
		}
		log.WithField("script", entry.Name).Debug("writing state script")
		if err := scripts.writeScript(filepath.Base(entry.Name), entry.Body); err != nil {
			return nil, err
		}
		wroteAnyScript = true
	}
	if wroteAnyScript {
		if err := scripts.finalize(); err != nil {
			return nil, err
		}
	}

	subHeaders, err := parseSubHeaders(tr, entry, info.Payloads)
	if err != nil {
		return nil, err
	}

	return &Result{Info: info, SubHeaders: subHeaders}, nil
}

func expectedTypeInfoName(index int) string {
	return fmt.Sprintf("headers/%04d/type-info", index)
}

func expectedMetaDataName(index int) string {
	return fmt.Sprintf("headers/%04d/meta-data", index)
}

// parseSubHeaders reads the headers/0000/{type-info,meta-data} entries,
// starting with the entry already fetched by the scripts loop above.
//
// The header format anticipates multiple payload sub-headers, but this
// parser only supports a single one; a second type-info entry is rejected
// as "multiple header entries found" rather than silently parsed, pending
// a future multi-payload extension.
func parseSubHeaders(tr *tarstream.Reader, first *tarstream.Entry, payloads []Payload) ([]SubHeader, error) {
	want := expectedTypeInfoName(0)
	if first.Name != want {
		return nil, parseErrorf("expected %q, got %q", want, first.Name)
	}
	body, err := io.ReadAll(first.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "header: failed to read %s", first.Name)
	}
	ti, err := parseTypeInfo(body)
	if err != nil {
		return nil, err
	}
	var declaredType string
	if len(payloads) > 0 {
		declaredType = payloads[0].Type
	}
	applyRootfsImageBugCompat(ti, declaredType)
	if ti.Type != declaredType {
		return nil, parseErrorf("type-info type %q does not match header-info payload type %q", ti.Type, declaredType)
	}

	sh := SubHeader{TypeInfo: ti}

	next, err := tr.Next()
	if err == io.EOF {
		return []SubHeader{sh}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "header: failed to read entry after type-info")
	}

	if next.Name == expectedMetaDataName(0) {
		mdBody, err := io.ReadAll(next.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "header: failed to read %s", next.Name)
		}
		md, err := parseMetaData(mdBody)
		if err != nil {
			return nil, err
		}
		sh.MetaData = md

		next, err = tr.Next()
		if err == io.EOF {
			return []SubHeader{sh}, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "header: failed to read entry after meta-data")
		}
	}

	if next.Name == expectedTypeInfoName(1) {
		return nil, parseErrorf("multiple header entries found")
	}
	return nil, parseErrorf("unexpected trailing header entry %q", next.Name)
}

// applyRootfsImageBugCompat is a bug-compatibility rule: if header-info
// declares this payload's type as "rootfs-image" but the sub-header's own
// type-info.type came back empty/null, overwrite it. This single case is
// the only type normalization the parser performs; parseSubHeaders rejects
// any other mismatch between header-info and type-info as a ParseError.
func applyRootfsImageBugCompat(ti *TypeInfo, declaredType string) {
	if declaredType != "rootfs-image" {
		return
	}
	if ti.Type == "null" || ti.Type == "" {
		ti.Type = "rootfs-image"
	}
}
