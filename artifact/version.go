package artifact

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// SupportedVersion is the only artifact format version this reader accepts.
// Earlier format versions are out of scope.
const SupportedVersion = 3

// versionDoc is the decoded "version" entry.
type versionDoc struct {
	Format  string `json:"format"`
	Version int    `json:"version"`
}

func parseVersion(r io.Reader) (*versionDoc, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "artifact: failed to read version entry")
	}
	var v versionDoc
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, structuralErrorf("version: invalid json: %s", err)
	}
	if v.Version != SupportedVersion {
		return nil, structuralErrorf("unsupported artifact version %d, only %d is supported", v.Version, SupportedVersion)
	}
	return &v, nil
}
