// Package llm abstracts the Generative AI APIs the pipeline calls, so
// stages depend on one interface and tests can supply mocks.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/pierre-achkar/sr4all/pkg/types"
)

// Backend abstracts a Generative AI API. Each implementation handles a
// single prompt and returns the raw response text.
type Backend interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is one prompt sent to a backend.
type Request struct {
	// Prompt is the full user-turn text.
	Prompt string

	// MaxTokens caps the completion length; 0 uses the backend default.
	MaxTokens int
}

// Response is the raw model output for one request.
type Response struct {
	Text string
}

// New builds the backend selected by cfg. An empty provider defaults to
// Gemini.
func New(ctx context.Context, cfg types.AIConfig) (Backend, error) {
	switch cfg.Provider {
	case types.ProviderGemini, "":
		return NewGeminiBackend(ctx, cfg.APIKey, cfg.Model, cfg.Temperature)
	case types.ProviderClaude:
		return &ClaudeBackend{APIKey: cfg.APIKey, Model: cfg.Model, Temperature: cfg.Temperature}, nil
	}
	return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
}

// CallError marks a transport or API failure. These are transient:
// CallWithRetry retries them, and only exhaustion is document-fatal.
type CallError struct {
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s call: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ParseError marks model output that failed structured parsing. Callers
// retry these with a stricter prompt rather than resending the same one.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// CallWithRetry calls the backend with exponential backoff plus a random
// jitter of up to one base interval. maxRetries bounds retries, not total
// calls.
func CallWithRetry(ctx context.Context, backend Backend, req Request, maxRetries int) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			backoff += rand.N(backoffBase)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := backend.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return Response{}, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// DecodeObject parses raw model output into v as a single JSON object.
// Markdown code fences around the object are tolerated; numbers decode as
// json.Number so integer fields survive undamaged. Failures return a
// *ParseError carrying the raw text.
func DecodeObject(raw string, v any) error {
	text := strings.TrimSpace(raw)
	text = trimFences(text)

	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &ParseError{Raw: raw, Err: err}
	}
	return nil
}

// trimFences strips a leading ```json (or bare ```) line and a trailing
// ``` line, which some models emit despite instructions.
func trimFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if idx := strings.Index(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
