// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Document error codes recorded in stage error logs.
const (
	// ErrCodeFileNotFound: the manifest's text path does not exist.
	ErrCodeFileNotFound = "FILE_NOT_FOUND"

	// ErrCodeEmptyText: the text file exists but holds no usable text.
	ErrCodeEmptyText = "EMPTY_TEXT"

	// ErrCodeReadError: the text file could not be read.
	ErrCodeReadError = "READ_ERROR"

	// ErrCodeParseFail: the model never returned parseable output for the
	// document, even with the stricter retry instruction.
	ErrCodeParseFail = "JSON_PARSE_FAIL"

	// ErrCodeModelCall: the model call failed past the retry cap.
	ErrCodeModelCall = "MODEL_CALL_FAILED"
)

// ManifestEntry names one corpus document and where its text lives.
type ManifestEntry struct {
	// ID is the document's stable identifier.
	ID string `json:"id"`

	// TextPath is the plain-text file, absolute or relative to the
	// data directory.
	TextPath string `json:"text_path"`
}

// Document is a loaded corpus document.
type Document struct {
	// ID is the manifest identifier.
	ID string `json:"id"`

	// SourcePath is the manifest path of the text, absolute or relative
	// to the data directory. Later stages resolve it the same way.
	SourcePath string `json:"source_path"`

	// Text is the full document text.
	Text string `json:"-"`
}

// ErrorEntry is one line of a stage error log: a document the stage could
// not process, excluded from the stage's main output.
type ErrorEntry struct {
	// DocumentID is the failed document.
	DocumentID string `json:"document_id"`

	// Stage is the pipeline stage that failed (extract, align,
	// factcheck, repair).
	Stage string `json:"stage"`

	// Code is the document error code.
	Code string `json:"code"`

	// Message is the underlying cause.
	Message string `json:"message"`

	// Time is when the failure was recorded.
	Time time.Time `json:"time"`
}
