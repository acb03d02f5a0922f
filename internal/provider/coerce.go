package provider

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Bounds for clamped fields. Percentages fit NUMERIC(5,2), rates NUMERIC(5,3).
const (
	PercentCap = 999.99
	RateCap    = 99.999
)

// Issue classes recorded when a field is nulled.
const (
	ClassTypeCoercion  = "type_coercion"
	ClassMalformedDate = "malformed_date"
)

var sentinels = map[string]bool{
	"":        true,
	"other":   true,
	"unknown": true,
	"n/a":     true,
	"na":      true,
	"none":    true,
	"null":    true,
	"-":       true,
}

// IsSentinel reports whether raw is a placeholder the provider uses for an
// unknown value.
func IsSentinel(raw string) bool {
	return sentinels[strings.ToLower(strings.TrimSpace(raw))]
}

func cleanNumber(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(s)
	return s
}

func parseNumber(raw string) (float64, error) {
	v, err := strconv.ParseFloat(cleanNumber(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("not a number: %q", raw)
	}
	return v, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Money coerces a currency amount. Sentinels are unknown (nil, nil); any
// other non-numeric value is nil with an error.
func Money(raw string) (*float64, error) {
	if IsSentinel(raw) {
		return nil, nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return nil, err
	}
	v = round(v, 2)
	return &v, nil
}

// Percent coerces a percentage, clamped to ±PercentCap at two decimals.
// Invalid values are nil, never zero.
func Percent(raw string) (*float64, error) {
	if IsSentinel(raw) {
		return nil, nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return nil, err
	}
	v = round(math.Max(-PercentCap, math.Min(PercentCap, v)), 2)
	return &v, nil
}

// Rate coerces an interest rate into [0, RateCap] at three decimals.
// Unlike Percent, unknown, invalid and negative rates floor to 0.
func Rate(raw string) (float64, error) {
	if IsSentinel(raw) {
		return 0, nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, nil
	}
	return round(math.Min(RateCap, v), 3), nil
}

// Int coerces a whole number. Fractions are truncated.
func Int(raw string) (*int, error) {
	if IsSentinel(raw) {
		return nil, nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return nil, err
	}
	if math.Abs(v) > math.MaxInt32 {
		return nil, eris.Errorf("out of range: %q", raw)
	}
	n := int(v)
	return &n, nil
}

// Decimal coerces a plain decimal such as a bathroom count.
func Decimal(raw string) (*float64, error) {
	if IsSentinel(raw) {
		return nil, nil
	}
	v, err := parseNumber(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Bool coerces provider flags: 1/0, true/false, yes/no, y/n.
func Bool(raw string) (*bool, error) {
	if IsSentinel(raw) {
		return nil, nil
	}
	var v bool
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "t", "yes", "y":
		v = true
	case "0", "false", "f", "no", "n":
		v = false
	default:
		return nil, eris.Errorf("not a flag: %q", raw)
	}
	return &v, nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"20060102",
	"2006-01",
}

// Date parses the date formats seen in provider exports. Results are
// midnight UTC.
func Date(raw string) (*time.Time, error) {
	if IsSentinel(raw) {
		return nil, nil
	}
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			if d.Year() < 1800 || d.Year() > 2200 {
				return nil, eris.Errorf("date out of range: %q", raw)
			}
			return &d, nil
		}
	}
	return nil, eris.Errorf("unrecognized date: %q", raw)
}

// Text trims raw and returns nil when nothing is left. Words such as
// "Other" are legitimate text values and are kept.
func Text(raw string) *string {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "null", "n/a", "-":
		return nil
	}
	return &s
}
