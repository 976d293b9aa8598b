package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseDecimal converts external numeric text to a decimal. Empty, invalid,
// NaN and infinite input yield zero so that bad upstream data can never
// propagate into balances.
func ParseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	switch strings.ToLower(strings.TrimLeft(s, "+-")) {
	case "nan", "inf", "infinity":
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalFromFloat converts a float with the same zero-on-garbage contract as ParseDecimal.
func DecimalFromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}
