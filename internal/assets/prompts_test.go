package assets

import (
	"strings"
	"testing"
)

func TestRenderExtractionPrompt(t *testing.T) {
	got := RenderExtractionPrompt("Call 1: Role: Customer\nTranscription:\nPerson 1: hi")
	if !strings.Contains(got, "\"\"\"\nCall 1: Role: Customer\nTranscription:\nPerson 1: hi\n\"\"\"") {
		t.Errorf("transcript not wrapped in quotes:\n%s", got)
	}
}

func TestEmbeddedPrompts(t *testing.T) {
	if !strings.Contains(TranscriptionPrompt, "Person 1:") {
		t.Error("transcription prompt should ask for speaker labels")
	}
	if !strings.Contains(ExtractionSystemPrompt, "\"General\"") {
		t.Error("extraction prompt should name the default branch")
	}
}
