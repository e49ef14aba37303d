package artifact

import "github.com/mender-core/agent/internal/header"

// HeaderView is the read-only, materialized view of an artifact's header:
// header-info plus each payload's type-info/meta-data. Its query methods
// are pure projections with no I/O.
type HeaderView struct {
	info       *header.Info
	subHeaders []header.SubHeader
}

// Info returns the decoded header-info document.
func (h *HeaderView) Info() *header.Info { return h.info }

// SubHeaders returns the per-payload type-info/meta-data, in payload order.
func (h *HeaderView) SubHeaders() []header.SubHeader { return h.subHeaders }

// GetProvides merges {artifact_name}, {artifact_group if present}, and
// every entry of each sub-header's type_info.artifact_provides.
func (h *HeaderView) GetProvides() map[string]string {
	out := map[string]string{
		"artifact_name": h.info.Provides.ArtifactName,
	}
	if h.info.Provides.ArtifactGroup != "" {
		out["artifact_group"] = h.info.Provides.ArtifactGroup
	}
	for _, sh := range h.subHeaders {
		if sh.TypeInfo == nil {
			continue
		}
		for k, v := range sh.TypeInfo.ArtifactProvides {
			out[k] = v
		}
	}
	return out
}

// GetDepends returns a string->list-of-string map keyed by device_type,
// artifact_name?, artifact_group?, plus each entry of every sub-header's
// type_info.artifact_depends wrapped in a single-element list.
func (h *HeaderView) GetDepends() map[string][]string {
	out := map[string][]string{
		"device_type": append([]string(nil), h.info.Depends.DeviceType...),
	}
	if h.info.Depends.ArtifactName != "" {
		out["artifact_name"] = []string{h.info.Depends.ArtifactName}
	}
	if h.info.Depends.ArtifactGroup != "" {
		out["artifact_group"] = []string{h.info.Depends.ArtifactGroup}
	}
	for _, sh := range h.subHeaders {
		if sh.TypeInfo == nil {
			continue
		}
		for k, v := range sh.TypeInfo.ArtifactDepends {
			out[k] = []string{v}
		}
	}
	return out
}
