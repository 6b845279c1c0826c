package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// TranscriptionPrompt instructs the model to transcribe one recording into
// plain English with speaker labels ("Person 1:", "Person 2:").
//
//go:embed prompts/transcription.txt
var TranscriptionPrompt string

// ExtractionSystemPrompt is the system instruction for ticket field
// extraction.
//
//go:embed prompts/extraction-system.txt
var ExtractionSystemPrompt string

//go:embed prompts/extraction.txt
var extractionTemplate string

var extractionTmpl = template.Must(template.New("extraction").Parse(extractionTemplate))

// ExtractionData is the input to the extraction prompt template.
type ExtractionData struct {
	Transcript string
}

// RenderExtractionPrompt renders the user prompt wrapping transcript.
func RenderExtractionPrompt(transcript string) string {
	var buf bytes.Buffer
	_ = extractionTmpl.Execute(&buf, ExtractionData{Transcript: transcript})
	return buf.String()
}
