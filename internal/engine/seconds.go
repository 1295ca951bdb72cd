package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Seconds is a float64 that survives JSON transport of non-finite values.
// It encodes NaN and infinities as the strings "NaN", "Infinity", and
// "-Infinity" and accepts those strings, plain numbers, or null on decode.
type Seconds float64

// Float returns the value as float64.
func (s Seconds) Float() float64 { return float64(s) }

// Finite reports whether the value is neither NaN nor infinite.
func (s Seconds) Finite() bool {
	f := float64(s)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Ptr returns a pointer to a copy of s.
func (s Seconds) Ptr() *Seconds { return &s }

// MarshalJSON implements json.Marshaler.
func (s Seconds) MarshalJSON() ([]byte, error) {
	f := float64(s)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		v, err := ParseNonFinite(text)
		if err != nil {
			return err
		}
		*s = Seconds(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("seconds: %w", err)
	}
	*s = Seconds(f)
	return nil
}

// ParseNonFinite parses the string spellings of non-finite numbers.
func ParseNonFinite(text string) (float64, error) {
	switch text {
	case "NaN", "nan":
		return math.NaN(), nil
	case "Infinity", "inf", "+Infinity":
		return math.Inf(1), nil
	case "-Infinity", "-inf":
		return math.Inf(-1), nil
	}
	return 0, fmt.Errorf("seconds: unexpected string %q", text)
}
