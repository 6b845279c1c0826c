// Package jsonutil extracts and cleans JSON produced by generative models,
// which may arrive wrapped in markdown fences, embedded in prose, or with
// the literal string "null" standing in for a missing value.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripMarkdownFences removes ```json ... ``` or ``` ... ``` wrapping from text.
// Returns the content between the fences, or the original text if no fences are found.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	startIdx := 1 // skip the opening ``` line
	endIdx := len(lines) - 1

	// Find the closing ```
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}

	return strings.Join(lines[startIdx:endIdx], "\n")
}

// ExtractJSON finds and returns the JSON content (object or array) from text
// that may contain surrounding non-JSON content.
// It finds the first { or [ and matches it with the last corresponding } or ].
func ExtractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)

	objIdx := strings.Index(text, "{")
	arrIdx := strings.Index(text, "[")

	if objIdx == -1 && arrIdx == -1 {
		return "", fmt.Errorf("no JSON content found")
	}

	// Determine which delimiter comes first
	var startIdx int
	var endChar string

	if arrIdx == -1 || (objIdx != -1 && objIdx <= arrIdx) {
		startIdx = objIdx
		endChar = "}"
	} else {
		startIdx = arrIdx
		endChar = "]"
	}

	text = text[startIdx:]
	endIdx := strings.LastIndex(text, endChar)
	if endIdx == -1 {
		return "", fmt.Errorf("no closing %s found", endChar)
	}

	return text[:endIdx+1], nil
}

// ExtractObject pulls the JSON object out of a model reply and returns it
// with null-spelling strings replaced by null.
func ExtractObject(reply string) (json.RawMessage, error) {
	jsonStr, err := ExtractJSON(StripMarkdownFences(reply))
	if err != nil {
		return nil, fmt.Errorf("%w (raw length: %d)", err, len(reply))
	}
	obj, err := NormalizeObject([]byte(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("%w (text: %s)", err, Preview(jsonStr, 200))
	}
	return obj, nil
}

// Preview truncates s to at most n bytes for log and error messages.
func Preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsNullString reports whether v is a string spelling of null
// ("null", " NULL ", ...).
func IsNullString(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "null")
}

// NullifyStrings walks a decoded JSON value. Object values that spell null
// become a real nil and such array elements are removed. Containers are
// rewritten in place; the (possibly replaced) value is returned.
func NullifyStrings(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if IsNullString(t) {
			return nil
		}
		return t
	case map[string]interface{}:
		for k, child := range t {
			t[k] = NullifyStrings(child)
		}
		return t
	case []interface{}:
		// A null-spelling array element is dropped, not nulled, so string
		// lists never carry empty entries.
		kept := t[:0]
		for _, child := range t {
			if s, ok := child.(string); ok && IsNullString(s) {
				continue
			}
			kept = append(kept, NullifyStrings(child))
		}
		return kept
	default:
		return v
	}
}

// NormalizeObject parses raw as a JSON object, applies NullifyStrings, and
// re-encodes it.
func NormalizeObject(raw []byte) (json.RawMessage, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("decode object: not a JSON object")
	}
	NullifyStrings(obj)
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}
	return out, nil
}
