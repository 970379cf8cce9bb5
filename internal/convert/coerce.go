package convert

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coercion type names accepted in per-field hint tables.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// TypeCoercionError reports a raw value that could not be coerced to an
// explicitly hinted type. Inference never produces this error; a value that
// matches no inferred pattern simply stays a string.
type TypeCoercionError struct {
	Column string
	Type   string
	Value  string
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("convert: column %q: cannot coerce %q to %s", e.Column, e.Value, e.Type)
}

// coerceHinted applies an explicit type hint. The hint always wins over
// inference, and a value the hint cannot parse is an error rather than a
// silent fallback to string.
func coerceHinted(column, hint, raw string) (any, error) {
	switch hint {
	case TypeString:
		return raw, nil

	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, &TypeCoercionError{Column: column, Type: hint, Value: raw}
		}
		return n, nil

	case TypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || !isFiniteNumber(f) {
			return nil, &TypeCoercionError{Column: column, Type: hint, Value: raw}
		}
		return f, nil

	case TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, &TypeCoercionError{Column: column, Type: hint, Value: raw}
	}

	return nil, fmt.Errorf("convert: column %q: unknown type hint %q", column, hint)
}

// coerceInferred guesses a scalar type from the raw string. Order matters:
// integer before float so "42" stays integral, boolean only for the exact
// true/false literals. Leading zeros disqualify the numeric forms so codes
// like "000" and "0042" survive as text.
func coerceInferred(raw string) any {
	if raw == "" {
		return nil
	}

	if hasLeadingZero(raw) {
		return raw
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && isFiniteNumber(f) {
		return f
	}

	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}

	return raw
}

// isFiniteNumber rejects the NaN/Inf spellings ParseFloat accepts; they have
// no JSON representation, so "NaN" and "inf" cells must stay text.
func isFiniteNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// hasLeadingZero reports whether raw looks like a zero-padded numeric code
// ("007", "-012") as opposed to a plain zero or a decimal like "0.5".
func hasLeadingZero(raw string) bool {
	s := raw
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	return len(s) > 1 && s[0] == '0' && s[1] != '.'
}
