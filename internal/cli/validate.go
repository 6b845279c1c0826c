package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/incident-tickets/internal/storage"
)

// ValidateRecordings checks that every path is a readable audio file and
// returns the absolute paths.
func ValidateRecordings(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no recordings selected")
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("recording %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("recording %s is a directory", p)
		}
		if !storage.IsAudio(p) {
			return nil, fmt.Errorf("recording %s is not a supported audio file", p)
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, p)
	}
	return out, nil
}
