package reconcile

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The workflow engine's payloads are loosely typed: numeric fields arrive as
// JSON numbers, quoted strings, empty strings or the literal "undefined"
// depending on workflow version. FlexFloat and FlexInt absorb all of those,
// mapping anything unparseable to "absent" rather than zero.

// FlexFloat is an optional float64 tolerant of string-encoded input.
type FlexFloat struct {
	Value float64
	Set   bool
}

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	raw, ok := flexRaw(data)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	f.Value = v
	f.Set = true
	return nil
}

// FlexInt is an optional int64 tolerant of string-encoded and fractional input.
type FlexInt struct {
	Value int64
	Set   bool
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw, ok := flexRaw(data)
	if !ok {
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		f.Value = v
		f.Set = true
		return nil
	}
	// Some workflow versions report durations as fractional milliseconds.
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		f.Value = int64(v)
		f.Set = true
	}
	return nil
}

// flexRaw reduces a JSON token to a trimmed numeric candidate string. The
// second return is false when the token is null, empty or a known junk value.
func flexRaw(data []byte) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", false
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "undefined" || s == "null" {
			return "", false
		}
		return s, true
	}
	return string(data), true
}
