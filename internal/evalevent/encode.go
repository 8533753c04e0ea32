package evalevent

import (
	"encoding/json"
	"fmt"
)

// Encode renders an event as a single wire line without the terminator.
func Encode(evt Event) ([]byte, error) {
	if evt == nil {
		return nil, fmt.Errorf("encode: nil event")
	}
	if m, ok := evt.(Malformed); ok {
		return []byte(m.RawLine), nil
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.Kind(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.Kind(), err)
	}
	kind, err := json.Marshal(string(evt.Kind()))
	if err != nil {
		return nil, err
	}
	fields["type"] = kind
	return json.Marshal(fields)
}
