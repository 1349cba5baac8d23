// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package corpus

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

// validFieldTypes is the set of accepted FieldType values.
var validFieldTypes = map[types.FieldType]bool{
	types.TypeString:     true,
	types.TypeInteger:    true,
	types.TypeNumber:     true,
	types.TypeBoolean:    true,
	types.TypeStringList: true,
}

// LoadSchema reads and validates an extraction schema YAML file. The
// returned schema is treated as immutable for the run.
func LoadSchema(path string) (types.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Schema{}, fmt.Errorf("reading schema %s: %w", path, err)
	}

	var schema types.Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return types.Schema{}, fmt.Errorf("parsing schema %s: %w", path, err)
	}
	if err := validateSchema(schema); err != nil {
		return types.Schema{}, fmt.Errorf("schema %s: %w", path, err)
	}
	return schema, nil
}

func validateSchema(schema types.Schema) error {
	if len(schema.Fields) == 0 {
		return fmt.Errorf("no fields defined")
	}

	seen := make(map[string]bool)
	for i, f := range schema.Fields {
		if f.Name == "" {
			return fmt.Errorf("field %d: empty name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("field %d: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true

		if !validFieldTypes[f.Type] {
			return fmt.Errorf("field %q: invalid type %q", f.Name, f.Type)
		}
		if strings.TrimSpace(f.Instruction) == "" {
			return fmt.Errorf("field %q: empty instruction", f.Name)
		}
	}
	return nil
}
