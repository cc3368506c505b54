package pointer

import "encoding/json"

// Change is a single pointer-addressed set-or-delete mutation (spec §3).
// Value distinguishes field-absent (delete) from field-present-null
// (set to JSON null) by being a nil vs. non-nil pointer; omitempty keys
// off that nil-ness, not off the emptiness of the pointed-to bytes, so
// {"value":null} round-trips correctly.
type Change struct {
	Target string           `json:"target"`
	Value  *json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON keeps a present "value": null as a non-nil Value holding
// the bytes null. Decoding straight into the *json.RawMessage field would
// set it to nil on null, turning a set-to-null into a delete.
func (c *Change) UnmarshalJSON(data []byte) error {
	var fields struct {
		Target string          `json:"target"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	c.Target, c.Value = fields.Target, nil
	if fields.Value != nil {
		c.Value = &fields.Value
	}
	return nil
}

// HasValue reports whether this change sets (true) or deletes (false)
// the target.
func (c Change) HasValue() bool {
	return c.Value != nil
}

// decodedValue unmarshals Value into a generic tree node. Only called
// when HasValue is true.
func (c Change) decodedValue() (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(*c.Value, &v); err != nil {
		return nil, errPathInvalidf("value for target %q is not valid JSON: %s", c.Target, err)
	}
	return v, nil
}

// NewSetChange builds a Change that sets target to value.
func NewSetChange(target string, value interface{}) (Change, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return Change{}, err
	}
	raw := json.RawMessage(b)
	return Change{Target: target, Value: &raw}, nil
}

// NewDeleteChange builds a Change that deletes target.
func NewDeleteChange(target string) Change {
	return Change{Target: target}
}
