// Package normalize provides the scalar field normalizers shared by request
// validation and catalog reconciliation. Every function is pure.
package normalize

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var yearPattern = regexp.MustCompile(`\d{4}`)

// String trims a scalar value. Non-string scalars are stringified first.
// The second result is false when the value is absent, not a scalar, or
// empty after trimming.
func String(v any) (string, bool) {
	s, ok := stringify(v)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

// ISBN strips every character except digits and the letter X, uppercasing X.
// The result may have any length; callers validate it with IsValidISBN.
func ISBN(v any) (string, bool) {
	s, ok := stringify(v)
	if !ok {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteByte('X')
		}
	}

	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// IsValidISBN reports whether s has a plausible identifier shape. An empty
// value is valid because the identifier is optional. No checksum is computed.
func IsValidISBN(s string) bool {
	switch len(s) {
	case 0:
		return true
	case 10:
		return allDigits(s[:9]) && (isDigit(s[9]) || s[9] == 'X' || s[9] == 'x')
	case 13:
		return allDigits(s)
	default:
		return false
	}
}

// ExtractYear returns a year from a numeric value or from the first run of
// four digits in a text value. Any other type yields no year.
func ExtractYear(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float32:
		return floatToInt(float64(t))
	case float64:
		return floatToInt(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i), true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		m := yearPattern.FindString(t)
		if m == "" {
			return 0, false
		}
		year, err := strconv.Atoi(m)
		if err != nil {
			return 0, false
		}
		return year, true
	default:
		return 0, false
	}
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
