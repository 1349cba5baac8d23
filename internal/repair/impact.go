// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package repair

import (
	"sort"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

// FieldChange names one field of one document whose grounding changed
// between two corpus snapshots.
type FieldChange struct {
	DocumentID string `json:"document_id"`
	Field      string `json:"field"`
}

// ImpactSummary compares a repaired corpus against its pre-repair
// snapshot. Recovered fields gained grounding, regressed fields lost it.
// A regression means a stage touched a field it had no business touching.
type ImpactSummary struct {
	Recovered []FieldChange `json:"recovered"`
	Regressed []FieldChange `json:"regressed"`
	Exhausted []FieldChange `json:"exhausted"`
}

// Recovery returns the fraction of previously ungrounded fields the
// repair pass recovered, in [0, 1]. Zero when nothing was eligible.
func (s ImpactSummary) Recovery() float64 {
	eligible := len(s.Recovered) + len(s.Exhausted)
	if eligible == 0 {
		return 0
	}
	return float64(len(s.Recovered)) / float64(eligible)
}

// Impact diffs field grounding between the pre-repair and post-repair
// corpora. Documents present in only one snapshot are ignored; the diff
// is per shared document, per schema field.
func Impact(schema types.Schema, before, after []*types.Record) ImpactSummary {
	prior := make(map[string]*types.Record, len(before))
	for _, rec := range before {
		prior[rec.DocumentID] = rec
	}

	var summary ImpactSummary
	for _, rec := range after {
		old, ok := prior[rec.DocumentID]
		if !ok {
			continue
		}
		for _, field := range schema.Fields {
			var wasGrounded bool
			if fv := old.Fields[field.Name]; fv != nil {
				wasGrounded = fv.Status.Grounded()
			}

			fv := rec.Fields[field.Name]
			isGrounded := fv != nil && fv.Status.Grounded()

			change := FieldChange{DocumentID: rec.DocumentID, Field: field.Name}
			switch {
			case isGrounded && !wasGrounded:
				summary.Recovered = append(summary.Recovered, change)
			case wasGrounded && !isGrounded:
				summary.Regressed = append(summary.Regressed, change)
			case fv != nil && fv.Status == types.StatusRepairFailed:
				summary.Exhausted = append(summary.Exhausted, change)
			}
		}
	}

	sortChanges(summary.Recovered)
	sortChanges(summary.Regressed)
	sortChanges(summary.Exhausted)
	return summary
}

func sortChanges(changes []FieldChange) {
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].DocumentID != changes[j].DocumentID {
			return changes[i].DocumentID < changes[j].DocumentID
		}
		return changes[i].Field < changes[j].Field
	})
}
