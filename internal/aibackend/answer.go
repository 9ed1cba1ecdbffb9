package aibackend

import (
	"bytes"
	"encoding/json"
)

// answerFields is the object shape some agents reply with.
type answerFields struct {
	Output *string `json:"output"`
	Text   *string `json:"text"`
}

// ParseAnswer turns a chat answer into display text. The answer may be a
// plain string, an object with an "output" or "text" field, or an array whose
// first element has one of those fields. Anything else is shown as compact JSON.
func ParseAnswer(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case '{':
		if text, ok := fieldText(raw); ok {
			return text
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 {
			if text, ok := fieldText(bytes.TrimSpace(items[0])); ok {
				return text
			}
		}
	}
	return dump(raw)
}

// fieldText extracts output, then text, from a JSON object. Empty strings
// fall through like missing fields.
func fieldText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '{' {
		return "", false
	}
	var f answerFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", false
	}
	if f.Output != nil && *f.Output != "" {
		return *f.Output, true
	}
	if f.Text != nil && *f.Text != "" {
		return *f.Text, true
	}
	return "", false
}

func dump(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
