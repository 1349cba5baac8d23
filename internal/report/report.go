// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report renders a Markdown summary of one pipeline run: field
// status counts, per-field grounding rates, document completeness, the
// repair pass's impact, and the document error taxonomy.
package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"text/template"
	"time"

	"github.com/pierre-achkar/sr4all/internal/dataset"
	"github.com/pierre-achkar/sr4all/internal/jsonl"
	"github.com/pierre-achkar/sr4all/internal/pipeline"
	"github.com/pierre-achkar/sr4all/internal/repair"
	"github.com/pierre-achkar/sr4all/pkg/types"
)

var reportTmpl = template.Must(template.New("report").Parse(`# Extraction run report

Run {{.RunID}} over {{.Documents}} documents, built from {{.Corpus}} ({{.GeneratedAt}}).

## Field status

| Status | Fields |
| --- | ---: |
{{range .Statuses}}| {{.Status}} | {{.Count}} |
{{end}}
## Grounding by field

| Field | Grounded | Verified | Repaired | Failed | Unset | Rate |
| --- | ---: | ---: | ---: | ---: | ---: | ---: |
{{range .Fields}}| {{.Name}} | {{.Grounded}} | {{.Verified}} | {{.Repaired}} | {{.Failed}} | {{.Unset}} | {{.Rate}} |
{{end}}
## Completeness

{{.Complete}} of {{.Documents}} documents are complete: every required
field grounded and every field group covered.
{{if .Impact}}
## Repair impact

Repair recovered {{len .Impact.Recovered}} fields and exhausted its budget
on {{len .Impact.Exhausted}} ({{.Recovery}} recovery).
{{if .Impact.Regressed}}
WARNING: {{len .Impact.Regressed}} fields lost grounding during repair:
{{range .Impact.Regressed}}- {{.DocumentID}}/{{.Field}}
{{end}}{{end}}{{end}}
## Document errors

{{if .Errors}}| Stage | Code | Documents |
| --- | --- | ---: |
{{range .Errors}}| {{.Stage}} | {{.Code}} | {{.Count}} |
{{end}}{{else}}No document errors recorded.
{{end}}`))

// statusOrder fixes the histogram's row order to the field lifecycle.
var statusOrder = []types.FieldStatus{
	types.StatusUnset,
	types.StatusExtracted,
	types.StatusAligned,
	types.StatusUnaligned,
	types.StatusVerified,
	types.StatusUnsupported,
	types.StatusRepaired,
	types.StatusRepairFailed,
}

type statusCount struct {
	Status types.FieldStatus
	Count  int
}

type fieldStat struct {
	Name     string
	Grounded int
	Verified int
	Repaired int
	Failed   int
	Unset    int
	Rate     string
}

type errorCount struct {
	Stage string
	Code  string
	Count int
}

type reportData struct {
	RunID       string
	GeneratedAt string
	Corpus      string
	Documents   int
	Complete    int
	Statuses    []statusCount
	Fields      []fieldStat
	Impact      *repair.ImpactSummary
	Recovery    string
	Errors      []errorCount
}

// Generate builds the Markdown report for the run in dataDir. It prefers
// the repaired corpus and falls back to the fact-checked one when the
// repair stage has not run. The repair-impact section needs both.
func Generate(dataDir string, schema types.Schema) (string, error) {
	checked, err := jsonl.ReadRecords(filepath.Join(dataDir, pipeline.CheckedFile))
	if err != nil {
		return "", fmt.Errorf("reading fact-checked corpus: %w", err)
	}
	repaired, err := jsonl.ReadRecords(filepath.Join(dataDir, pipeline.RepairedFile))
	if err != nil {
		return "", fmt.Errorf("reading repaired corpus: %w", err)
	}

	records := repaired
	corpusFile := pipeline.RepairedFile
	if len(records) == 0 {
		records = checked
		corpusFile = pipeline.CheckedFile
	}
	if len(records) == 0 {
		return "", fmt.Errorf("no fact-checked or repaired corpus in %s: run the pipeline first", dataDir)
	}

	data := reportData{
		RunID:       records[0].RunID,
		GeneratedAt: time.Now().UTC().Format("2006-01-02 15:04 UTC"),
		Corpus:      corpusFile,
		Documents:   len(records),
	}
	if data.RunID == "" {
		data.RunID = "(unknown)"
	}

	tallyStatuses(&data, schema, records)
	tallyFields(&data, schema, records)

	for _, rec := range records {
		if dataset.Completeness(schema, rec) {
			data.Complete++
		}
	}

	if len(repaired) > 0 && len(checked) > 0 {
		impact := repair.Impact(schema, checked, repaired)
		data.Impact = &impact
		data.Recovery = fmt.Sprintf("%.0f%%", impact.Recovery()*100)
	}

	errs, err := readErrorCounts(dataDir)
	if err != nil {
		return "", err
	}
	data.Errors = errs

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return buf.String(), nil
}

func tallyStatuses(data *reportData, schema types.Schema, records []*types.Record) {
	counts := make(map[types.FieldStatus]int)
	for _, rec := range records {
		for _, field := range schema.Fields {
			status := types.StatusUnset
			if fv := rec.Fields[field.Name]; fv != nil {
				status = fv.Status
			}
			counts[status]++
		}
	}
	for _, status := range statusOrder {
		if counts[status] > 0 {
			data.Statuses = append(data.Statuses, statusCount{Status: status, Count: counts[status]})
		}
	}
}

func tallyFields(data *reportData, schema types.Schema, records []*types.Record) {
	for _, field := range schema.Fields {
		stat := fieldStat{Name: field.Name}
		for _, rec := range records {
			fv := rec.Fields[field.Name]
			if fv == nil {
				stat.Unset++
				continue
			}
			switch fv.Status {
			case types.StatusVerified:
				stat.Verified++
			case types.StatusRepaired:
				stat.Repaired++
			case types.StatusUnsupported, types.StatusRepairFailed:
				stat.Failed++
			case types.StatusUnset:
				stat.Unset++
			}
			if fv.Status.Grounded() {
				stat.Grounded++
			}
		}
		stat.Rate = fmt.Sprintf("%.0f%%", float64(stat.Grounded)/float64(len(records))*100)
		data.Fields = append(data.Fields, stat)
	}
}

// readErrorCounts aggregates the four stage error logs by (stage, code).
func readErrorCounts(dataDir string) ([]errorCount, error) {
	files := []string{
		pipeline.ExtractErrorsFile,
		pipeline.AlignErrorsFile,
		pipeline.FactCheckErrorsFile,
		pipeline.RepairErrorsFile,
	}

	type key struct{ stage, code string }
	counts := make(map[key]int)

	for _, file := range files {
		entries, err := jsonl.ReadErrors(filepath.Join(dataDir, file))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		for _, e := range entries {
			counts[key{e.Stage, e.Code}]++
		}
	}

	var out []errorCount
	for k, n := range counts {
		out = append(out, errorCount{Stage: k.stage, Code: k.code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}
