package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/incident-tickets/internal/assets"
	"github.com/fpang/incident-tickets/internal/jsonutil"
	"github.com/fpang/incident-tickets/internal/metrics"
)

// GeminiExtractor fills the ticket fields from a combined transcript using
// structured JSON output.
type GeminiExtractor struct {
	gen   ContentGenerator
	model string
}

// NewGeminiExtractor returns an extractor using model, or GetModelName()
// when model is empty.
func NewGeminiExtractor(gen ContentGenerator, model string) *GeminiExtractor {
	if model == "" {
		model = GetModelName()
	}
	return &GeminiExtractor{gen: gen, model: model}
}

// Extract returns the model's JSON object with every string spelling of
// null replaced by a real null.
func (e *GeminiExtractor) Extract(ctx context.Context, transcript string) (json.RawMessage, error) {
	prompt := assets.RenderExtractionPrompt(transcript)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.ExtractionSystemPrompt}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   TicketSchema(),
	}

	log.Debug().
		Str("model", e.model).
		Int("prompt_length", len(prompt)).
		Msg("Starting Gemini API call for field extraction")

	callStart := time.Now()
	resp, err := e.gen.GenerateContent(ctx, e.model, genai.Text(prompt), config)
	duration := time.Since(callStart)

	m := metrics.Ticket("extract").
		Dimension("Provider", "gemini").
		Metric("ModelCallMs", float64(duration.Milliseconds()), metrics.UnitMilliseconds)
	if err != nil {
		m.Count("ModelCallErrors").Flush()
		log.Error().Err(err).Dur("duration", duration).Msg("Gemini extraction failed")
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	m.Flush()

	if resp == nil {
		return nil, fmt.Errorf("received empty response from Gemini API")
	}
	responseText := resp.Text()
	log.Debug().
		Int("response_length", len(responseText)).
		Dur("duration", duration).
		Msg("Gemini API response received for field extraction")

	fields, err := jsonutil.ExtractObject(responseText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}
	return fields, nil
}
