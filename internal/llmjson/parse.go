// Package llmjson recovers JSON objects from free-form model output.
package llmjson

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoObject is returned when no balanced JSON object exists in the text.
var ErrNoObject = eris.New("llmjson: no JSON object found")

// StripFences removes a leading/trailing markdown code fence if present.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}

// FirstObject returns the first balanced {...} span in text. The scan is
// string- and escape-aware so braces inside JSON strings don't miscount.
func FirstObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", ErrNoObject
}

// DecodeFirstObject strips code fences, locates the first balanced JSON
// object in text, and decodes it into out. Unknown fields are ignored so
// decoding stays forward-compatible. Returns ErrNoObject when no balanced
// object exists.
func DecodeFirstObject(text string, out any) error {
	raw, err := FirstObject(StripFences(text))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	if err := dec.Decode(out); err != nil {
		return eris.Wrap(err, "llmjson: decode object")
	}
	return nil
}
