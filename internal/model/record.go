package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// ExtractedRecord is one structured result produced by an extraction attempt.
// Its field map is copied on construction and never handed out by reference,
// so a record cannot change after it is created.
type ExtractedRecord struct {
	fields            map[string]any
	sourceCandidateID string
	extractedAt       time.Time
}

// NewExtractedRecord builds an immutable record from a field map.
func NewExtractedRecord(candidateID string, fields map[string]any, extractedAt time.Time) ExtractedRecord {
	return ExtractedRecord{
		fields:            maps.Clone(fields),
		sourceCandidateID: candidateID,
		extractedAt:       extractedAt.UTC(),
	}
}

// SourceCandidateID returns the ID of the candidate the record came from.
func (r ExtractedRecord) SourceCandidateID() string { return r.sourceCandidateID }

// ExtractedAt returns the extraction timestamp (UTC).
func (r ExtractedRecord) ExtractedAt() time.Time { return r.extractedAt }

// Fields returns a copy of the record's field map.
func (r ExtractedRecord) Fields() map[string]any { return maps.Clone(r.fields) }

// Len returns the number of fields on the record.
func (r ExtractedRecord) Len() int { return len(r.fields) }

// Field returns the raw value for name.
func (r ExtractedRecord) Field(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// StringField returns the value for name formatted as a string, or "" when
// absent or nil.
func (r ExtractedRecord) StringField(name string) string {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Flat returns the record as a single flat field map suitable for the run
// document: the extracted fields plus provenance keys.
func (r ExtractedRecord) Flat() map[string]any {
	out := make(map[string]any, len(r.fields)+2)
	for k, v := range r.fields {
		out[k] = v
	}
	out["source_candidate_id"] = r.sourceCandidateID
	out["extracted_at"] = r.extractedAt.Format(time.RFC3339)
	return out
}

type recordJSON struct {
	Fields            map[string]any `json:"fields"`
	SourceCandidateID string         `json:"source_candidate_id"`
	ExtractedAt       time.Time      `json:"extracted_at"`
}

// MarshalJSON implements json.Marshaler.
func (r ExtractedRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Fields:            r.fields,
		SourceCandidateID: r.sourceCandidateID,
		ExtractedAt:       r.extractedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *ExtractedRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NewExtractedRecord(raw.SourceCandidateID, raw.Fields, raw.ExtractedAt)
	return nil
}
