// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// FieldType is the value type an extraction field is declared with.
type FieldType string

const (
	// TypeString is a free-text value.
	TypeString FieldType = "string"

	// TypeInteger is a whole-number value (sample sizes, counts).
	TypeInteger FieldType = "integer"

	// TypeNumber is a floating-point value.
	TypeNumber FieldType = "number"

	// TypeBoolean is a yes/no value.
	TypeBoolean FieldType = "boolean"

	// TypeStringList is an ordered list of free-text values.
	TypeStringList FieldType = "string_list"
)

// FieldSpec declares one extraction target: what to look for, how to type
// it, and how to re-ask when the first extraction fails verification.
type FieldSpec struct {
	// Name is the field's identifier, unique within a schema.
	Name string `json:"name" yaml:"name"`

	// Type is the declared value type.
	Type FieldType `json:"type" yaml:"type"`

	// Required marks fields a record must ground to count as complete.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Group names a coverage group: a complete record grounds at least
	// one field of every named group. Empty means ungrouped.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	// Instruction tells the model what to extract for this field.
	Instruction string `json:"instruction" yaml:"instruction"`

	// RepairInstruction replaces Instruction during targeted
	// re-extraction; empty falls back to a stricter default.
	RepairInstruction string `json:"repair_instruction,omitempty" yaml:"repair_instruction,omitempty"`
}

// Schema is the ordered set of fields one pipeline run extracts. It is
// loaded once and treated as immutable for the run.
type Schema struct {
	// Name labels the schema in logs and reports.
	Name string `json:"name" yaml:"name"`

	// Fields are the extraction targets, in prompt and output order.
	Fields []FieldSpec `json:"fields" yaml:"fields"`
}

// Field returns the spec for a field name, with ok reporting membership.
func (s Schema) Field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Groups returns the distinct group names in declaration order.
func (s Schema) Groups() []string {
	var groups []string
	seen := map[string]bool{}
	for _, f := range s.Fields {
		if f.Group == "" || seen[f.Group] {
			continue
		}
		seen[f.Group] = true
		groups = append(groups, f.Group)
	}
	return groups
}
