// Package price turns retailer price strings into numbers.
package price

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
	// splitEuro matches prices printed as units, euro sign, cents: "1 €99"
	splitEuro = regexp.MustCompile(`(\d+)[\s\x{00a0}]*€[\s\x{00a0}]*(\d{2})\b`)
)

// Parse extracts a price from a display string such as "3,99 €",
// "1 ,49 €*" or "1 €99". Currency markers and all whitespace are removed
// and the comma is read as the decimal separator; the first number left
// wins. Thousands separators are not recognised. Returns nil when no
// digits are present.
func Parse(raw string) *float64 {
	raw = splitEuro.ReplaceAllString(raw, "$1.$2")

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case unicode.IsSpace(r), r == '€', r == '$', r == '£':
			continue
		case r == ',':
			b.WriteRune('.')
		default:
			b.WriteRune(r)
		}
	}

	match := numberPattern.FindString(b.String())
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseAny parses a JSON scalar (number or numeric string)
func ParseAny(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil
		}
		return &f
	case string:
		return Parse(n)
	}
	return nil
}

// Round2 rounds to cents
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// InRange reports whether p is set and lies within [lo, hi]
func InRange(p *float64, lo, hi float64) bool {
	return p != nil && *p >= lo && *p <= hi
}
