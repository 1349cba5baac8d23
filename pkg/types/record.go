// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the sr4all pipeline:
// extraction records and their per-field lifecycle, extraction schemas,
// corpus manifests, and stage configuration.
package types

import "time"

// FieldStatus tracks a single field through the extract, align, fact-check,
// and repair stages.
type FieldStatus string

const (
	// StatusUnset means no value has been produced for the field.
	StatusUnset FieldStatus = "unset"

	// StatusExtracted means the model proposed a value that has not yet
	// been located in the document text.
	StatusExtracted FieldStatus = "extracted"

	// StatusAligned means a supporting span was found in the document.
	StatusAligned FieldStatus = "aligned"

	// StatusUnaligned means no supporting span could be found.
	StatusUnaligned FieldStatus = "unaligned"

	// StatusVerified means the grounding check confirmed the span
	// supports the value.
	StatusVerified FieldStatus = "verified"

	// StatusUnsupported means the value failed alignment or the grounding
	// check and has been nulled.
	StatusUnsupported FieldStatus = "unsupported"

	// StatusRepaired means a targeted re-extraction produced a value that
	// passed alignment and the grounding check.
	StatusRepaired FieldStatus = "repaired"

	// StatusRepairFailed means the repair budget was exhausted without a
	// grounded value.
	StatusRepairFailed FieldStatus = "repair_failed"
)

// Reason codes attached to fields whose value was rejected or nulled.
const (
	// ReasonNoEvidence: no span supporting the value exists in the text.
	ReasonNoEvidence = "no_evidence_found"

	// ReasonUnsupportedValue: a span was found but does not state the value.
	ReasonUnsupportedValue = "evidence_does_not_support_value"
)

var statusTransitions = map[FieldStatus][]FieldStatus{
	StatusUnset:       {StatusExtracted, StatusRepaired, StatusRepairFailed},
	StatusExtracted:   {StatusAligned, StatusUnaligned},
	StatusAligned:     {StatusVerified, StatusUnsupported},
	StatusUnaligned:   {StatusUnsupported},
	StatusUnsupported: {StatusRepaired, StatusRepairFailed},
}

// ValidTransition reports whether a field may move from one status to
// another. Repair attempts that leave a field unsupported are not
// transitions; only the terminal outcome of the repair loop is.
func ValidTransition(from, to FieldStatus) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status is final: no later stage will change
// the field again.
func (s FieldStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusRepaired, StatusRepairFailed:
		return true
	}
	return false
}

// Grounded reports whether the field holds a value backed by document
// evidence.
func (s FieldStatus) Grounded() bool {
	return s == StatusVerified || s == StatusRepaired
}

// FieldValue is the per-field working state of a record. A field whose
// status is not grounded or mid-pipeline carries a nil Value.
type FieldValue struct {
	// Value is the extracted value, typed per the field's schema entry
	// (string, int64, float64, bool, or []string after coercion). Nil
	// whenever the pipeline has no grounded candidate for the field.
	Value any `json:"value"`

	// EvidenceSpan supports Value. During extraction it holds the model's
	// proposed quote, unvalidated; after alignment it is always a verbatim
	// slice of the document text, or nil when no span was found.
	EvidenceSpan *string `json:"evidence_span"`

	// Status is the field's position in the pipeline lifecycle.
	Status FieldStatus `json:"status"`

	// Reason explains a nulled value; empty otherwise.
	Reason string `json:"reason"`

	// Attempts counts repair attempts spent on this field.
	Attempts int `json:"attempts"`
}

// FactCheckStats summarizes the grounding check over one record.
type FactCheckStats struct {
	// Checked is the number of fields submitted to the grounding check.
	Checked int `json:"checked"`

	// Failed is the number of those nulled as unsupported.
	Failed int `json:"failed"`
}

// Record is one document's extraction state, serialized as a single JSONL
// line by every stage.
type Record struct {
	// DocumentID is the stable corpus identifier; output files are keyed
	// by it.
	DocumentID string `json:"document_id"`

	// SourcePath is the text file the record was extracted from,
	// absolute or relative to the data directory.
	SourcePath string `json:"source_path,omitempty"`

	// RunID ties the record to one pipeline invocation.
	RunID string `json:"run_id,omitempty"`

	// Timestamp is when the most recent stage wrote the record.
	Timestamp time.Time `json:"timestamp"`

	// Fields maps schema field names to their working state.
	Fields map[string]*FieldValue `json:"fields"`

	// FactCheck is populated by the grounding-check stage.
	FactCheck *FactCheckStats `json:"fact_check,omitempty"`
}

// Span returns the record's evidence span for a field, or "" when unset.
func (r *Record) Span(name string) string {
	fv, ok := r.Fields[name]
	if !ok || fv.EvidenceSpan == nil {
		return ""
	}
	return *fv.EvidenceSpan
}
