package pricing

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

var leadingNumber = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?`)

// ParseAmount reads the longest decimal literal at the start of raw, ignoring
// leading whitespace. "12.50 USD" yields 12.5. It returns NaN and false when
// raw does not start with a number.
func ParseAmount(raw string) (float64, bool) {
	trimmed := strings.TrimLeftFunc(raw, unicode.IsSpace)
	literal := leadingNumber.FindString(trimmed)
	if literal == "" {
		return math.NaN(), false
	}
	v, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

// FormatAmount renders v as the shortest decimal string that round-trips, e.g.
// 105, 95.5 or 0.30000000000000004. Output is always positional: 1e21 renders
// as 1000000000000000000000 and 1e-7 as 0.0000001, where JavaScript's
// Number#toString would switch to exponent form.
func FormatAmount(v float64) string {
	if !IsFinite(v) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return decimal.NewFromFloat(v).String()
}
