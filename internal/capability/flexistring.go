package capability

import (
	"bytes"
	"encoding/json"
)

// FlexiString accepts either a JSON string or a JSON number.
type FlexiString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexiString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexiString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexiString(n.String())
	return nil
}
