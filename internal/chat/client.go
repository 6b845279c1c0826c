// Package chat talks to the Gemini API: per-recording audio transcription
// and structured ticket field extraction from a combined transcript.
package chat

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// ContentGenerator is the subset of genai.Models used here. *genai.Models
// satisfies it; tests substitute a fake.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Gemini Developer API client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}
