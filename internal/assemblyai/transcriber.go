// Package assemblyai transcribes recordings with AssemblyAI's speech-to-text
// API as an alternative to Gemini. Speaker diarization output is rendered in
// the same "Person N:" layout the Gemini transcriber produces.
package assemblyai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
	"github.com/rs/zerolog/log"

	"github.com/fpang/incident-tickets/internal/metrics"
)

// TranscriptAPI is the subset of aai.TranscriptService used here.
type TranscriptAPI interface {
	TranscribeFromReader(ctx context.Context, reader io.Reader, params *aai.TranscriptOptionalParams) (aai.Transcript, error)
}

// Transcriber uploads a recording and waits for the finished transcript.
type Transcriber struct {
	api TranscriptAPI
}

// New returns a Transcriber backed by the AssemblyAI SDK client for apiKey.
func New(apiKey string) *Transcriber {
	return NewWithAPI(aai.NewClient(apiKey).Transcripts)
}

// NewWithAPI wraps an existing transcript service.
func NewWithAPI(api TranscriptAPI) *Transcriber {
	return &Transcriber{api: api}
}

// Transcribe implements the processor's transcriber contract. The language
// is detected per recording since calls switch between Tamil and English.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	params := &aai.TranscriptOptionalParams{
		SpeakerLabels:     aai.Bool(true),
		LanguageDetection: aai.Bool(true),
	}

	start := time.Now()
	transcript, err := t.api.TranscribeFromReader(ctx, bytes.NewReader(audio), params)
	m := metrics.Ticket("transcribe").
		Dimension("Provider", "assemblyai").
		Metric("ModelCallMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Metric("AudioBytes", float64(len(audio)), metrics.UnitBytes)
	if err != nil {
		m.Count("ModelCallErrors").Flush()
		return "", fmt.Errorf("assemblyai transcription of %s: %w", fileName, err)
	}
	m.Flush()

	if transcript.Status == aai.TranscriptStatusError {
		msg := "unknown error"
		if transcript.Error != nil {
			msg = *transcript.Error
		}
		return "", fmt.Errorf("assemblyai transcription of %s: %s", fileName, msg)
	}

	text := Render(transcript)
	log.Debug().
		Str("file", fileName).
		Int("utterances", len(transcript.Utterances)).
		Int("length", len(text)).
		Msg("AssemblyAI transcript received")
	return text, nil
}

// Render formats a transcript as one "Person N: text" line per utterance,
// numbering speakers in order of first appearance. Without utterances it
// falls back to the plain text.
func Render(tr aai.Transcript) string {
	if len(tr.Utterances) == 0 {
		if tr.Text == nil {
			return ""
		}
		return strings.TrimSpace(*tr.Text)
	}

	numbers := make(map[string]int)
	var lines []string
	for _, u := range tr.Utterances {
		if u.Text == nil || strings.TrimSpace(*u.Text) == "" {
			continue
		}
		speaker := ""
		if u.Speaker != nil {
			speaker = *u.Speaker
		}
		n, ok := numbers[speaker]
		if !ok {
			n = len(numbers) + 1
			numbers[speaker] = n
		}
		lines = append(lines, fmt.Sprintf("Person %d: %s", n, strings.TrimSpace(*u.Text)))
	}
	return strings.Join(lines, "\n")
}
