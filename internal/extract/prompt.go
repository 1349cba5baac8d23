// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"bytes"
	"text/template"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

// extractionPromptTmpl is the prompt sent to the model for each document.
// It asks for every schema field in one pass; the response contract is a
// single JSON object keyed by field name, each value carrying the typed
// value and a verbatim supporting quote.
var extractionPromptTmpl = template.Must(template.New("extraction").Parse(`{{if .Strict}}Your previous response could not be parsed as JSON. Respond with ONLY the JSON object described below. No prose, no markdown fences, no commentary.

{{end}}You are a systematic-review data extraction system. Analyze the following document and extract the fields listed below.

Fields to extract:
{{range .Fields}}- {{.Name}} ({{.Type}}): {{.Instruction}}
{{end}}
For every field report two keys:
- "value": the extracted value, typed as declared (string, integer, number, boolean, or string_list). Use null if the document does not state it. Never guess.
- "evidence": a short verbatim quote from the document that states the value. Preserve exact language, do not paraphrase. Use null when value is null.

Respond with a JSON object mapping each field name to its {"value": ..., "evidence": ...} pair. Do not include any text outside the JSON object.

Example response:
{"sample_size": {"value": 42, "evidence": "a total of 42 participants were enrolled"}, "registry_id": {"value": null, "evidence": null}}

Document:
{{.Text}}
`))

type promptField struct {
	Name        string
	Type        string
	Instruction string
}

type promptData struct {
	Strict bool
	Fields []promptField
	Text   string
}

// renderPrompt executes the extraction prompt template for a document.
// strict prepends the format reminder used after a parse failure.
func renderPrompt(schema types.Schema, text string, strict bool) (string, error) {
	data := promptData{
		Strict: strict,
		Fields: make([]promptField, 0, len(schema.Fields)),
		Text:   text,
	}
	for _, f := range schema.Fields {
		instruction := f.Instruction
		if instruction == "" {
			instruction = "extract the value stated in the document"
		}
		data.Fields = append(data.Fields, promptField{
			Name:        f.Name,
			Type:        string(f.Type),
			Instruction: instruction,
		})
	}

	var buf bytes.Buffer
	if err := extractionPromptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
