package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/incident-tickets/internal/assets"
	"github.com/fpang/incident-tickets/internal/metrics"
	"github.com/fpang/incident-tickets/internal/storage"
)

// GeminiTranscriber turns one audio recording into a labeled English
// transcript. The audio is sent inline; recordings are phone calls of a
// few minutes, well under the inline request limit.
type GeminiTranscriber struct {
	gen   ContentGenerator
	model string
}

// NewGeminiTranscriber returns a transcriber using model, or GetModelName()
// when model is empty.
func NewGeminiTranscriber(gen ContentGenerator, model string) *GeminiTranscriber {
	if model == "" {
		model = GetModelName()
	}
	return &GeminiTranscriber{gen: gen, model: model}
}

// Transcribe sends audio with the transcription prompt and returns the
// model's text. fileName is used only to pick the audio MIME type.
func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	mimeType := storage.ContentTypeFor(fileName)
	parts := []*genai.Part{
		{Text: assets.TranscriptionPrompt},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: audio}},
	}

	log.Debug().
		Str("model", t.model).
		Str("file", fileName).
		Str("mimeType", mimeType).
		Int("bytes", len(audio)).
		Msg("Starting Gemini API call for transcription")

	callStart := time.Now()
	resp, err := t.gen.GenerateContent(ctx, t.model, []*genai.Content{{Role: "user", Parts: parts}}, nil)
	duration := time.Since(callStart)

	m := metrics.Ticket("transcribe").
		Dimension("Provider", "gemini").
		Metric("ModelCallMs", float64(duration.Milliseconds()), metrics.UnitMilliseconds).
		Metric("AudioBytes", float64(len(audio)), metrics.UnitBytes)
	if err != nil {
		m.Count("ModelCallErrors").Flush()
		log.Error().Err(err).Str("file", fileName).Dur("duration", duration).Msg("Gemini transcription failed")
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	m.Flush()

	if resp == nil {
		return "", fmt.Errorf("received empty response from Gemini API")
	}
	text := strings.TrimSpace(resp.Text())
	log.Debug().
		Str("file", fileName).
		Int("response_length", len(text)).
		Dur("duration", duration).
		Msg("Gemini transcription received")
	return text, nil
}
