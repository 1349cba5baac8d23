// Package align locates evidence spans for extracted field values in the
// document text. Matching runs in three tiers: exact substring, normalized
// (whitespace-collapsed, case-insensitive) substring, then token-window
// fuzzy matching above a similarity threshold. Earliest document offset
// wins ties. The stored span is always a verbatim slice of the raw text,
// whichever tier found it.
package align

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

// MatchMethod identifies which matching tier produced a span.
type MatchMethod string

const (
	MatchExact      MatchMethod = "exact"
	MatchNormalized MatchMethod = "normalized"
	MatchFuzzy      MatchMethod = "fuzzy"
)

// Match is a located evidence span: byte offsets into the raw text, the
// tier that found it, and its similarity score (1.0 below the fuzzy tier).
type Match struct {
	Start  int
	End    int
	Score  float64
	Method MatchMethod
}

// normalized is a whitespace-collapsed, lower-cased rendering of a string
// plus a byte-offset map back into the original.
type normalized struct {
	text string
	// offsets[i] is the byte offset in the original of the rune that
	// produced normalized byte i.
	offsets []int
}

func normalize(s string) normalized {
	var b strings.Builder
	var offsets []int
	pendingSpace := false

	for i, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			offsets = append(offsets, i)
			pendingSpace = false
		}
		start := b.Len()
		b.WriteRune(unicode.ToLower(r))
		for j := start; j < b.Len(); j++ {
			offsets = append(offsets, i)
		}
	}
	return normalized{text: b.String(), offsets: offsets}
}

// Normalize collapses whitespace runs to single spaces, trims the ends,
// and lower-cases. Two strings are the same evidence under this rendering.
func Normalize(s string) string {
	return normalize(s).text
}

// ContainsNormalized reports whether span occurs in text under the
// normalization rule.
func ContainsNormalized(text, span string) bool {
	if span == "" {
		return false
	}
	return strings.Contains(Normalize(text), Normalize(span))
}

// SpanSupported reports whether span counts as evidence present in text:
// a non-empty verbatim substring, or a match under the normalization
// rule. The dataset store uses it to re-check grounded fields at ingest.
func SpanSupported(text, span string) bool {
	if span == "" {
		return false
	}
	return strings.Contains(text, span) || ContainsNormalized(text, span)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// boundaryOK reports whether text[start:end] neither starts nor ends in
// the middle of a word or number.
func boundaryOK(text string, start, end int) bool {
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		first, _ := utf8.DecodeRuneInString(text[start:])
		if isWordRune(prev) && isWordRune(first) {
			return false
		}
	}
	if end < len(text) {
		last, _ := utf8.DecodeLastRuneInString(text[:end])
		next, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(last) && isWordRune(next) {
			return false
		}
	}
	return true
}

// exactIndex returns the offset of the first occurrence of probe in text
// that respects word boundaries, or -1. A bare "42" must not match inside
// "142".
func exactIndex(text, probe string) int {
	if probe == "" {
		return -1
	}
	from := 0
	for {
		idx := strings.Index(text[from:], probe)
		if idx < 0 {
			return -1
		}
		idx += from
		if boundaryOK(text, idx, idx+len(probe)) {
			return idx
		}
		from = idx + 1
	}
}

// token is one word of text with its byte offsets in the original.
type token struct {
	text  string
	start int
	end   int
}

func tokenize(s string) []token {
	var tokens []token
	start := -1
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{text: strings.ToLower(s[start:i]), start: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{text: strings.ToLower(s[start:]), start: start, end: len(s)})
	}
	return tokens
}

// diceSimilarity scores two token bags: 2·|overlap| / (|a|+|b|).
func diceSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	counts := make(map[string]int, len(a))
	for _, t := range a {
		counts[t]++
	}
	overlap := 0
	for _, t := range b {
		if counts[t] > 0 {
			counts[t]--
			overlap++
		}
	}
	return 2 * float64(overlap) / float64(len(a)+len(b))
}

// Find searches text for a span supporting probe. Tiers run in order:
// exact, normalized, fuzzy. The fuzzy tier slides a window of the probe's
// token length across the text and accepts the best-scoring window at or
// above threshold; a strictly-greater comparison keeps the earliest offset
// on ties. A threshold outside (0, 1] disables the fuzzy tier.
func Find(text, probe string, threshold float64) (Match, bool) {
	probe = strings.TrimSpace(probe)
	if probe == "" || text == "" {
		return Match{}, false
	}

	if idx := exactIndex(text, probe); idx >= 0 {
		return Match{Start: idx, End: idx + len(probe), Score: 1, Method: MatchExact}, true
	}

	normText := normalize(text)
	normProbe := Normalize(probe)
	if normProbe != "" {
		if idx := exactIndex(normText.text, normProbe); idx >= 0 {
			start := normText.offsets[idx]
			lastOff := normText.offsets[idx+len(normProbe)-1]
			_, size := utf8.DecodeRuneInString(text[lastOff:])
			return Match{Start: start, End: lastOff + size, Score: 1, Method: MatchNormalized}, true
		}
	}

	if threshold <= 0 || threshold > 1 {
		return Match{}, false
	}

	probeTokens := tokenize(probe)
	textTokens := tokenize(text)
	window := len(probeTokens)
	if window == 0 || len(textTokens) < window {
		return Match{}, false
	}

	probeWords := make([]string, window)
	for i, t := range probeTokens {
		probeWords[i] = t.text
	}
	textWords := make([]string, len(textTokens))
	for i, t := range textTokens {
		textWords[i] = t.text
	}

	var best Match
	found := false
	for i := 0; i+window <= len(textTokens); i++ {
		score := diceSimilarity(probeWords, textWords[i:i+window])
		if score >= threshold && score > best.Score {
			best = Match{
				Start:  textTokens[i].start,
				End:    textTokens[i+window-1].end,
				Score:  score,
				Method: MatchFuzzy,
			}
			found = true
		}
	}
	return best, found
}

// Probe returns the text to search for a field: the model's candidate
// quote when present, else a rendering of the value itself.
func Probe(fv *types.FieldValue) string {
	if fv.EvidenceSpan != nil && strings.TrimSpace(*fv.EvidenceSpan) != "" {
		return *fv.EvidenceSpan
	}
	return ValueProbe(fv.Value)
}

// ValueProbe renders a value for span search. List values use their
// longest element.
func ValueProbe(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []string:
		longest := ""
		for _, s := range val {
			if len(s) > len(longest) {
				longest = s
			}
		}
		return longest
	case []any:
		longest := ""
		for _, e := range val {
			if s := ValueProbe(e); len(s) > len(longest) {
				longest = s
			}
		}
		return longest
	}
	return fmt.Sprintf("%v", v)
}

// AlignField resolves one extracted field against the document text. On a
// match the evidence span is rewritten to the verbatim document window and
// the field becomes aligned; otherwise the span is cleared and the field
// becomes unaligned with reason no_evidence_found. The value itself is
// never touched here.
func AlignField(fv *types.FieldValue, text string, threshold float64) (Match, bool) {
	m, ok := Find(text, Probe(fv), threshold)
	if !ok {
		fv.EvidenceSpan = nil
		fv.Status = types.StatusUnaligned
		fv.Reason = types.ReasonNoEvidence
		return Match{}, false
	}

	span := text[m.Start:m.End]
	fv.EvidenceSpan = &span
	fv.Status = types.StatusAligned
	fv.Reason = ""
	return m, true
}

// AlignRecord aligns every extracted field of rec against text in schema
// order. Fuzzy matches are logged as lower-confidence evidence.
func AlignRecord(schema types.Schema, rec *types.Record, text string, threshold float64, logger *zap.Logger) {
	for _, field := range schema.Fields {
		fv := rec.Fields[field.Name]
		if fv == nil || fv.Status != types.StatusExtracted {
			continue
		}

		m, ok := AlignField(fv, text, threshold)
		if !ok {
			logger.Debug("no evidence span",
				zap.String("document_id", rec.DocumentID),
				zap.String("field", field.Name))
			continue
		}
		if m.Method == MatchFuzzy {
			logger.Warn("fuzzy evidence match",
				zap.String("document_id", rec.DocumentID),
				zap.String("field", field.Name),
				zap.Float64("score", m.Score),
				zap.Int("offset", m.Start))
		}
	}
}
