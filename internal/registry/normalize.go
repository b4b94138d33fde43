package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Eligibility display values.
const (
	FlagYes = "Да"
	FlagNo  = "Нет"
)

var sourceLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
}

// OptString decodes a JSON scalar into an optional string. null and "" both
// decode to the unset value; numbers and booleans keep their literal text.
type OptString struct {
	value string
	valid bool
}

// Some returns a set OptString, or the unset value for "".
func Some(s string) OptString {
	if s == "" {
		return OptString{}
	}
	return OptString{value: s, valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*o = OptString{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		*o = Some(s)
	case '{', '[':
		return fmt.Errorf("expected a scalar, got %s", data[:1])
	default:
		*o = Some(string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o OptString) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// Valid reports whether a non-empty value was decoded.
func (o OptString) Valid() bool { return o.valid }

// String returns the value, or "" when unset.
func (o OptString) String() string { return o.value }

// Ptr returns nil for the unset value.
func (o OptString) Ptr() *string {
	if !o.valid {
		return nil
	}
	v := o.value
	return &v
}

// OptBool decodes a JSON boolean, 0/1, or their string spellings. Any other
// value decodes to unset rather than failing the record.
type OptBool struct {
	value bool
	valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptBool) UnmarshalJSON(data []byte) error {
	*o = OptBool{}
	var s OptString
	if err := s.UnmarshalJSON(data); err != nil || !s.Valid() {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s.String())) {
	case "true", "1", strings.ToLower(FlagYes):
		*o = OptBool{value: true, valid: true}
	case "false", "0", strings.ToLower(FlagNo):
		*o = OptBool{value: false, valid: true}
	}
	return nil
}

// Ptr returns nil for the unset value.
func (o OptBool) Ptr() *bool {
	if !o.valid {
		return nil
	}
	v := o.value
	return &v
}

// OptFloat decodes a JSON number or numeric string. null and "" decode to unset.
type OptFloat struct {
	value float64
	valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *OptFloat) UnmarshalJSON(data []byte) error {
	var s OptString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*o = OptFloat{}
	if !s.Valid() {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s.String()), ",", "."), 64)
	if err != nil {
		return fmt.Errorf("decode number %q: %w", s.String(), err)
	}
	*o = OptFloat{value: f, valid: true}
	return nil
}

// Ptr returns nil for the unset value.
func (o OptFloat) Ptr() *float64 {
	if !o.valid {
		return nil
	}
	v := o.value
	return &v
}

// Titled is a nested lookup object such as member_type or member_status.
type Titled struct {
	Title OptString `json:"title"`
}

// TitleOf returns the title of a nested lookup, nil when the object is absent.
func TitleOf(t *Titled) *string {
	if t == nil {
		return nil
	}
	return t.Title.Ptr()
}

// FormatDate re-emits a source timestamp with layout. Unset input yields nil.
func FormatDate(raw OptString, layout string) (*string, error) {
	if !raw.Valid() {
		return nil, nil
	}
	ts, err := ParseTimestamp(raw.String())
	if err != nil {
		return nil, err
	}
	out := ts.Format(layout)
	return &out, nil
}

// ParseTimestamp parses an ISO-8601 timestamp with a numeric offset.
func ParseTimestamp(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range sourceLayouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, lastErr)
}

// ComposeAddress joins the set parts with ", " preserving order.
func ComposeAddress(parts ...OptString) *string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Valid() {
			kept = append(kept, p.String())
		}
	}
	if len(kept) == 0 {
		return nil
	}
	out := strings.Join(kept, ", ")
	return &out
}

// FlagDisplay maps an eligibility flag to its display value. A missing flag
// reads as negative.
func FlagDisplay(flag *bool) string {
	if flag != nil && *flag {
		return FlagYes
	}
	return FlagNo
}
