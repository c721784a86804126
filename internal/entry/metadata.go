package entry

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Metadata is the JSON metadata attached to an entry.
//
// Known fields are typed; everything else round-trips through Extra so
// callers never lose keys they did not anticipate. Links and Backlinks are
// the relationship adjacency lists maintained by the graph package.
//
// Legacy comment entries use the singular Link field plus IsComment; new
// code writes the plural Links list. Both forms are honored on read.
type Metadata struct {
	Title            string   `json:"-"`
	Source           string   `json:"-"`
	Type             string   `json:"-"`
	Links            []string `json:"-"`
	Backlinks        []string `json:"-"`
	IsComment        bool     `json:"-"`
	Link             string   `json:"-"`
	ParentSource     string   `json:"-"`
	Filename         string   `json:"-"`
	OriginalFilename string   `json:"-"`

	// Extra preserves metadata keys this package does not model.
	Extra map[string]any `json:"-"`
}

// metadataKeys are the JSON keys owned by typed fields.
var metadataKeys = []string{
	"title", "source", "type", "links", "backlinks",
	"isComment", "link", "parentSource", "filename", "originalFilename",
}

// MarshalJSON flattens typed fields and Extra into a single JSON object.
// Zero-valued typed fields are omitted; typed fields win over Extra keys.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+len(metadataKeys))
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	if m.Source != "" {
		out["source"] = m.Source
	}
	if m.Type != "" {
		out["type"] = m.Type
	}
	if len(m.Links) > 0 {
		out["links"] = m.Links
	}
	if len(m.Backlinks) > 0 {
		out["backlinks"] = m.Backlinks
	}
	if m.IsComment {
		out["isComment"] = true
	}
	if m.Link != "" {
		out["link"] = m.Link
	}
	if m.ParentSource != "" {
		out["parentSource"] = m.ParentSource
	}
	if m.Filename != "" {
		out["filename"] = m.Filename
	}
	if m.OriginalFilename != "" {
		out["originalFilename"] = m.OriginalFilename
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

// UnmarshalJSON splits a JSON object into typed fields and Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}

	*m = Metadata{}

	// Pop typed fields; malformed values for a typed key are an error.
	pop := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("metadata key %q: %w", key, err)
		}
		return nil
	}

	if err := pop("title", &m.Title); err != nil {
		return err
	}
	if err := pop("source", &m.Source); err != nil {
		return err
	}
	if err := pop("type", &m.Type); err != nil {
		return err
	}
	if err := pop("links", &m.Links); err != nil {
		return err
	}
	if err := pop("backlinks", &m.Backlinks); err != nil {
		return err
	}
	if err := pop("isComment", &m.IsComment); err != nil {
		return err
	}
	if err := pop("link", &m.Link); err != nil {
		return err
	}
	if err := pop("parentSource", &m.ParentSource); err != nil {
		return err
	}
	if err := pop("filename", &m.Filename); err != nil {
		return err
	}
	if err := pop("originalFilename", &m.OriginalFilename); err != nil {
		return err
	}

	if len(raw) > 0 {
		m.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("metadata key %q: %w", k, err)
			}
			m.Extra[k] = val
		}
	}

	return nil
}

// AddLink appends id to Links if not already present.
// Reports whether the list changed.
func (m *Metadata) AddLink(id string) bool {
	if slices.Contains(m.Links, id) {
		return false
	}
	m.Links = append(m.Links, id)
	return true
}

// AddBacklink appends id to Backlinks if not already present.
// Reports whether the list changed.
func (m *Metadata) AddBacklink(id string) bool {
	if slices.Contains(m.Backlinks, id) {
		return false
	}
	m.Backlinks = append(m.Backlinks, id)
	return true
}

// RemoveRef strips id from both Links and Backlinks.
// Reports whether anything was removed.
func (m *Metadata) RemoveRef(id string) bool {
	removed := false
	if i := slices.Index(m.Links, id); i >= 0 {
		m.Links = slices.Delete(m.Links, i, i+1)
		removed = true
	}
	if i := slices.Index(m.Backlinks, id); i >= 0 {
		m.Backlinks = slices.Delete(m.Backlinks, i, i+1)
		removed = true
	}
	return removed
}

// ConnectedIDs returns the union of Links and Backlinks, deduplicated,
// in first-seen order.
func (m *Metadata) ConnectedIDs() []string {
	seen := make(map[string]struct{}, len(m.Links)+len(m.Backlinks))
	var ids []string
	for _, id := range m.Links {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, id := range m.Backlinks {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// MergePatch applies a shallow JSON merge: every top-level key in patch
// replaces the corresponding key in m, keys absent from patch are kept.
// Returns the merged metadata without modifying m.
func (m Metadata) MergePatch(patch map[string]json.RawMessage) (Metadata, error) {
	base, err := json.Marshal(m)
	if err != nil {
		return Metadata{}, fmt.Errorf("marshal metadata for merge: %w", err)
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &merged); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal metadata for merge: %w", err)
	}
	for k, v := range patch {
		merged[k] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return Metadata{}, fmt.Errorf("marshal merged metadata: %w", err)
	}

	var result Metadata
	if err := result.UnmarshalJSON(out); err != nil {
		return Metadata{}, err
	}
	return result, nil
}
