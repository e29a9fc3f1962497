package gateway

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// errNoJSON is returned when a model response carries no JSON payload.
var errNoJSON = eris.New("gateway: no JSON in response")

// decodeJSON finds the first JSON object or array in a model response,
// tolerating prose and markdown fences around it, and decodes it into v.
func decodeJSON(text string, v any) error {
	raw := extractJSON(text)
	if raw == "" {
		return errNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return eris.Wrap(err, "gateway: decode response")
	}
	return nil
}

func extractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closeCh:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
