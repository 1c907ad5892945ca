// Package taskinput resolves the task string a run is submitted with: a
// literal prompt, or a path to a .md or .json file holding one.
package taskinput

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Resolve returns the literal task prompt for input. If input ends in .md
// and names a file that exists, the file's contents are returned trimmed of
// surrounding whitespace. If input ends in .json and names a file that
// exists, the file is parsed as either a bare JSON string or an object
// carrying one of "task", "description", or "prompt" (each of which may
// itself be a string or a nested object holding the same keys). Anything
// else is returned unchanged as a literal prompt.
func Resolve(input string) (string, error) {
	switch {
	case strings.HasSuffix(input, ".md") && fileExists(input):
		data, err := os.ReadFile(input)
		if err != nil {
			return "", fmt.Errorf("taskinput: read %s: %w", input, err)
		}
		return strings.TrimSpace(string(data)), nil

	case strings.HasSuffix(input, ".json") && fileExists(input):
		data, err := os.ReadFile(input)
		if err != nil {
			return "", fmt.Errorf("taskinput: read %s: %w", input, err)
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return "", fmt.Errorf("taskinput: parse %s: %w", input, err)
		}
		prompt, ok := extractPrompt(v)
		if !ok {
			return "", fmt.Errorf("taskinput: %s has no string, and no task/description/prompt field", input)
		}
		return prompt, nil

	default:
		return input, nil
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func extractPrompt(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case map[string]any:
		for _, key := range []string{"task", "description", "prompt"} {
			nested, ok := t[key]
			if !ok {
				continue
			}
			if s, ok := extractPrompt(nested); ok {
				return s, true
			}
		}
	}
	return "", false
}
