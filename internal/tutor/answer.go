package tutor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// rawAnswer is the shape the chat model is instructed to produce.
type rawAnswer struct {
	Answer     string        `json:"answer"`
	Confidence float64       `json:"confidence"`
	CitedFiles []rawCitation `json:"cited_files"`
}

type rawCitation struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// parseAnswer extracts the structured answer from a model response. Models
// wrap JSON in markdown fences or emit slightly broken JSON often enough that
// both get handled before giving up.
func parseAnswer(response string) (*rawAnswer, error) {
	candidate := extractJSON(response)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var parsed rawAnswer
	if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
		return normalizeAnswer(&parsed)
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("repair model response: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
		return nil, fmt.Errorf("parse repaired model response: %w", err)
	}
	return normalizeAnswer(&parsed)
}

func normalizeAnswer(a *rawAnswer) (*rawAnswer, error) {
	a.Answer = strings.TrimSpace(a.Answer)
	if a.Answer == "" {
		return nil, fmt.Errorf("model response has no answer text")
	}
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}
	return a, nil
}

// extractJSON returns the first top-level JSON object in the text, stripping
// markdown code fences when present.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx >= 0 {
			text = text[idx+1:]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	// unbalanced; let the repair pass try the remainder
	return text[start:]
}
