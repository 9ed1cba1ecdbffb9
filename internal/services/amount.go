package services

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AmountText is an amount as entered by the user, parsed later by
// core.ParseAmount. In JSON it may be a string ("12,50") or a number (12.5).
type AmountText string

func (a *AmountText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AmountText(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or a string, got %s", data)
	}
	*a = AmountText(n.String())
	return nil
}
