package pipeline

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/fpang/incident-tickets/internal/store"
)

// managerFile matches the dialer's naming for calls placed by a named
// manager, e.g. manager_Ravi_Kumar_00919876543210.m4a.
var managerFile = regexp.MustCompile(`manager_(.+?)_0091`)

// RoleLabel is the human-readable speaker role for a recording's block in
// the combined transcript.
func RoleLabel(rec *store.Recording) string {
	if rec.Role == store.RoleManager {
		if m := managerFile.FindStringSubmatch(path.Base(rec.FileName)); m != nil {
			return "Manager " + strings.ReplaceAll(m[1], "_", " ")
		}
	}
	return string(rec.Role)
}

// CombineTranscripts renders one block per recording, numbered from 1 in
// the given order, and trims the result.
func CombineTranscripts(recs []*store.Recording) string {
	var b strings.Builder
	for i, rec := range recs {
		text := ""
		if rec.Transcription != nil {
			text = *rec.Transcription
		}
		fmt.Fprintf(&b, "Call %d: Role: %s\nTranscription:\n%s\n\n", i+1, RoleLabel(rec), text)
	}
	return strings.TrimSpace(b.String())
}

// hasSpeech reports whether any recording produced non-blank text. The block
// headers alone do not count as a transcript.
func hasSpeech(recs []*store.Recording) bool {
	for _, rec := range recs {
		if rec.Transcription != nil && strings.TrimSpace(*rec.Transcription) != "" {
			return true
		}
	}
	return false
}
