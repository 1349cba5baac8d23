// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend calls the Gemini API through the genai SDK. Responses are
// constrained to JSON via the response MIME type.
type GeminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGeminiBackend creates a backend bound to one model. The API key is
// passed explicitly; the SDK's environment fallbacks are not used.
func NewGeminiBackend(ctx context.Context, apiKey, model string, temperature float64) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiBackend{
		client:      client,
		model:       model,
		temperature: float32(temperature),
	}, nil
}

// Complete sends one prompt and returns the model's JSON text.
func (g *GeminiBackend) Complete(ctx context.Context, req Request) (Response, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.temperature),
		ResponseMIMEType: "application/json",
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Response{}, &CallError{Provider: "gemini", Err: err}
	}

	text := resp.Text()
	if text == "" {
		return Response{}, &CallError{Provider: "gemini", Err: fmt.Errorf("empty response")}
	}
	return Response{Text: text}, nil
}
