package cart

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type attributeKind uint8

const (
	attributeUnset attributeKind = iota
	attributeByID
	attributeByLabel
)

// AttributeValue is one selected value of a product attribute: either a
// catalog value id or a legacy free-text label. The zero value selects nothing.
type AttributeValue struct {
	kind  attributeKind
	id    int64
	label string
}

// ByID selects an attribute value by its catalog id.
func ByID(id int64) AttributeValue {
	return AttributeValue{kind: attributeByID, id: id}
}

// ByLabel selects an attribute value by its legacy label.
func ByLabel(label string) AttributeValue {
	return AttributeValue{kind: attributeByLabel, label: label}
}

// ParseAttributeValue reads user input: integers become ids, anything else a label.
func ParseAttributeValue(raw string) AttributeValue {
	trimmed := strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return ByID(id)
	}
	return ByLabel(trimmed)
}

func (v AttributeValue) ID() (int64, bool) {
	return v.id, v.kind == attributeByID
}

func (v AttributeValue) Label() (string, bool) {
	return v.label, v.kind == attributeByLabel
}

func (v AttributeValue) IsZero() bool {
	return v.kind == attributeUnset
}

func (v AttributeValue) String() string {
	switch v.kind {
	case attributeByID:
		return strconv.FormatInt(v.id, 10)
	case attributeByLabel:
		return strconv.Quote(v.label)
	default:
		return "<unset>"
	}
}

func (v AttributeValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case attributeByID:
		return []byte(strconv.FormatInt(v.id, 10)), nil
	case attributeByLabel:
		return json.Marshal(v.label)
	default:
		return []byte("null"), nil
	}
}

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = AttributeValue{}
		return nil
	case data[0] == '"':
		var label string
		if err := json.Unmarshal(data, &label); err != nil {
			return err
		}
		*v = ByLabel(label)
		return nil
	default:
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("attribute value must be a number or string: %w", err)
		}
		id, err := num.Int64()
		if err != nil {
			return fmt.Errorf("attribute value id %q is not an integer", num.String())
		}
		*v = ByID(id)
		return nil
	}
}

// Selection maps an attribute identifier to the chosen values. Missing
// attributes are legal; some are optional.
type Selection map[string][]AttributeValue

// UnmarshalJSON accepts a single value or a list per attribute.
func (s *Selection) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Selection, len(raw))
	for key, msg := range raw {
		msg = bytes.TrimSpace(msg)
		if len(msg) > 0 && msg[0] == '[' {
			var values []AttributeValue
			if err := json.Unmarshal(msg, &values); err != nil {
				return fmt.Errorf("attribute %q: %w", key, err)
			}
			out[key] = values
			continue
		}
		var value AttributeValue
		if err := json.Unmarshal(msg, &value); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		if value.IsZero() {
			out[key] = nil
			continue
		}
		out[key] = []AttributeValue{value}
	}
	*s = out
	return nil
}

// Normalize returns the canonical wire form: keys trimmed, numeric keys
// rendered without leading zeros or sign noise, and empty keys, unset values
// and empty value lists dropped. Values are otherwise passed through. When two
// raw keys collapse onto one canonical key their values are concatenated in
// sorted raw-key order.
func (s Selection) Normalize() Selection {
	if len(s) == 0 {
		return Selection{}
	}
	rawKeys := make([]string, 0, len(s))
	for key := range s {
		rawKeys = append(rawKeys, key)
	}
	sort.Strings(rawKeys)

	out := make(Selection, len(s))
	for _, rawKey := range rawKeys {
		key := canonicalKey(rawKey)
		if key == "" {
			continue
		}
		for _, value := range s[rawKey] {
			if value.IsZero() {
				continue
			}
			out[key] = append(out[key], value)
		}
	}
	return out
}

// Clone returns a deep copy.
func (s Selection) Clone() Selection {
	if s == nil {
		return nil
	}
	out := make(Selection, len(s))
	for key, values := range s {
		out[key] = append([]AttributeValue(nil), values...)
	}
	return out
}

func canonicalKey(raw string) string {
	key := strings.TrimSpace(raw)
	if key == "" {
		return ""
	}
	if n, err := strconv.ParseInt(key, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return key
}
