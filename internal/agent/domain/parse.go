package domain

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// decodeModelJSON extracts and decodes a JSON object out of free-form model
// text into dst. Models wrap JSON in prose or markdown fences more often than
// not, so decoding tries the raw text, then the widest brace window, then a
// repaired rendition of that window. Returns false when nothing decodes;
// callers fall back, they never fail.
func decodeModelJSON(content string, dst any) bool {
	text := strings.TrimSpace(content)
	if text == "" {
		return false
	}

	if err := json.Unmarshal([]byte(text), dst); err == nil {
		return true
	}

	obj := extractJSONObject(text)
	if obj == "" {
		return false
	}
	if err := json.Unmarshal([]byte(obj), dst); err == nil {
		return true
	}

	// Last chance: mend truncated or sloppy JSON (trailing commas, single
	// quotes, unclosed braces) before giving up.
	repaired, err := jsonrepair.JSONRepair(obj)
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(repaired), dst) == nil
}

// extractJSONObject returns the widest {...} window in text, or "".
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

// splitLines returns the non-empty trimmed lines of text with leading list
// markers removed. Used when a model answers with a bullet list instead of
// the requested JSON.
func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789. )\t-*")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
