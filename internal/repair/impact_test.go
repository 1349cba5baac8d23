// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package repair

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

func impactRecord(docID string, statuses map[string]types.FieldStatus) *types.Record {
	fields := make(map[string]*types.FieldValue, len(statuses))
	for name, status := range statuses {
		fields[name] = &types.FieldValue{Status: status}
	}
	return &types.Record{DocumentID: docID, Fields: fields}
}

func TestImpact(t *testing.T) {
	schema := testSchema()

	before := []*types.Record{
		impactRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusUnsupported,
			"dropout_rate": types.StatusUnsupported,
		}),
		impactRecord("doc-2", map[string]types.FieldStatus{
			"objective":    types.StatusUnsupported,
			"sample_size":  types.StatusVerified,
			"dropout_rate": types.StatusUnset,
		}),
	}
	after := []*types.Record{
		impactRecord("doc-1", map[string]types.FieldStatus{
			"objective":    types.StatusVerified,
			"sample_size":  types.StatusRepaired,
			"dropout_rate": types.StatusRepairFailed,
		}),
		impactRecord("doc-2", map[string]types.FieldStatus{
			"objective":    types.StatusRepaired,
			"sample_size":  types.StatusVerified,
			"dropout_rate": types.StatusRepairFailed,
		}),
	}

	got := Impact(schema, before, after)

	want := ImpactSummary{
		Recovered: []FieldChange{
			{DocumentID: "doc-1", Field: "sample_size"},
			{DocumentID: "doc-2", Field: "objective"},
		},
		Exhausted: []FieldChange{
			{DocumentID: "doc-1", Field: "dropout_rate"},
			{DocumentID: "doc-2", Field: "dropout_rate"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Impact mismatch (-want +got):\n%s", diff)
	}

	if got.Recovery() != 0.5 {
		t.Errorf("Recovery = %v, want 0.5", got.Recovery())
	}
}

func TestImpactFlagsRegression(t *testing.T) {
	schema := testSchema()

	before := []*types.Record{
		impactRecord("doc-1", map[string]types.FieldStatus{
			"objective": types.StatusVerified,
		}),
	}
	after := []*types.Record{
		impactRecord("doc-1", map[string]types.FieldStatus{
			"objective": types.StatusUnsupported,
		}),
	}

	got := Impact(schema, before, after)
	want := []FieldChange{{DocumentID: "doc-1", Field: "objective"}}
	if diff := cmp.Diff(want, got.Regressed); diff != "" {
		t.Errorf("Regressed mismatch (-want +got):\n%s", diff)
	}
}

func TestImpactIgnoresUnsharedDocuments(t *testing.T) {
	schema := testSchema()

	before := []*types.Record{
		impactRecord("doc-only-before", map[string]types.FieldStatus{
			"objective": types.StatusUnsupported,
		}),
	}
	after := []*types.Record{
		impactRecord("doc-only-after", map[string]types.FieldStatus{
			"objective": types.StatusRepaired,
		}),
	}

	got := Impact(schema, before, after)
	if len(got.Recovered)+len(got.Regressed)+len(got.Exhausted) != 0 {
		t.Errorf("expected empty summary, got %+v", got)
	}
}

func TestImpactRecoveryEmpty(t *testing.T) {
	var s ImpactSummary
	if s.Recovery() != 0 {
		t.Errorf("Recovery on empty summary = %v, want 0", s.Recovery())
	}
}
