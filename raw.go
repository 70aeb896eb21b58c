package pushrelay

import (
	"encoding/json"
	"fmt"
)

// DecodeRawMessage parses a JSON object into a RawMessage. String values are
// kept as-is; any other JSON value is kept as its JSON text.
func DecodeRawMessage(data []byte) (RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("raw message is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("raw message is not a JSON object: null")
	}
	raw := make(RawMessage, len(fields))
	for k, v := range fields {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			raw[k] = s
		} else {
			raw[k] = string(v)
		}
	}
	return raw, nil
}
