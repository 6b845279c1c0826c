package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ncruces/zenity"

	"github.com/fpang/incident-tickets/internal/store"
)

// ErrCanceled is returned when the user dismisses the file picker.
var ErrCanceled = errors.New("selection canceled")

// SelectRecordings opens the native multi-file picker filtered to audio.
func SelectRecordings() ([]string, error) {
	selected, err := zenity.SelectFileMultiple(
		zenity.Title("Select call recordings"),
		zenity.FileFilters{
			{
				Name: "Call recordings",
				Patterns: []string{
					"*.m4a", "*.mp3", "*.wav", "*.aac", "*.ogg", "*.opus",
					"*.amr", "*.mp4", "*.flac", "*.webm",
				},
			},
		},
	)
	if errors.Is(err, zenity.ErrCanceled) {
		return nil, ErrCanceled
	}
	return selected, err
}

// PromptForRole asks which party is speaking in fileName until a valid
// role is entered. An empty answer picks Customer.
func PromptForRole(in *bufio.Reader, out io.Writer, fileName string) (store.Role, error) {
	for {
		fmt.Fprintf(out, "Role for %s [Customer/Manager/Other] (Customer): ", filepath.Base(fileName))
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read role: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return store.RoleCustomer, nil
		}
		role, perr := store.ParseRole(line)
		if perr == nil {
			return role, nil
		}
		fmt.Fprintf(out, "  %v\n", perr)
		if err != nil {
			return "", fmt.Errorf("read role: %w", err)
		}
	}
}

// Confirm asks a yes/no question; only y or yes counts as yes.
func Confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, _ := in.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
