package billing

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	groupedAmount = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)
	decimalComma  = regexp.MustCompile(`^[+-]?\d+,\d+$`)
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"20060102",
}

// NormalizeCustomerID trims whitespace. Identifiers are numeric meter codes so case is kept.
func NormalizeCustomerID(id string) string {
	return strings.TrimSpace(id)
}

// ParseAmount coerces a ledger amount. Malformed or negative values become 0.
// Commas are thousands separators when every group after them has three digits
// ("1,250,000.50"); a single comma otherwise is a decimal separator ("1,5").
// Any other comma layout, such as "1.250,50", is malformed.
func ParseAmount(raw string) float64 {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0
	}
	value = strings.ReplaceAll(value, " ", "")
	if strings.Contains(value, ",") {
		switch {
		case groupedAmount.MatchString(value):
			value = strings.ReplaceAll(value, ",", "")
		case decimalComma.MatchString(value):
			value = strings.Replace(value, ",", ".", 1)
		default:
			return 0
		}
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0
	}
	return ClampAmount(d.InexactFloat64())
}

// ClampAmount forces an already-numeric amount to be non-negative.
func ClampAmount(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	return v
}

// ParseDate parses a ledger or log date. Unparseable input yields the zero time.
func ParseDate(raw string) time.Time {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ParseOptionalDate is ParseDate returning nil for unparseable input.
func ParseOptionalDate(raw string) *time.Time {
	t := ParseDate(raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

// ParseInt coerces an integer field; malformed values become 0.
func ParseInt(raw string) int {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		f, ferr := strconv.ParseFloat(value, 64)
		if ferr != nil {
			return 0
		}
		return int(f)
	}
	return n
}
