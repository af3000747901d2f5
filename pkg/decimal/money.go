// Package decimal implements a fixed-scale (2-digit minor unit) monetary
// value suitable for receipt amounts and index totals. Amounts are stored as
// an integer count of minor units (cents) so arithmetic never drifts the way
// float64 addition would across thousands of receipts.
package decimal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Scale is the number of minor-unit digits every Money value carries.
const Scale = 2

// Money is a fixed-scale amount, stored as minor units (e.g. cents) to avoid
// floating-point drift. The currency code travels alongside it as a sibling
// JSON field (amount_tracked / currency_code) rather than inside Money
// itself, matching the on-disk index schema in spec §6.
type Money int64

// Zero is the additive identity.
const Zero Money = 0

func pow10(n int) int64 {
	v := int64(1)
	for range n {
		v *= 10
	}

	return v
}

// Parse parses a decimal string like "25.99" into minor units. Rejects more
// than Scale fractional digits.
func Parse(s string) (Money, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	parts := strings.SplitN(s, ".", 2)

	whole, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decimal: invalid amount %q: %w", s, err)
	}

	var frac int64

	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > Scale {
			return 0, fmt.Errorf("decimal: amount %q has more than %d fractional digits", s, Scale)
		}

		for len(fracStr) < Scale {
			fracStr += "0"
		}

		frac, err = strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("decimal: invalid fractional amount %q: %w", s, err)
		}
	}

	minor := whole*pow10(Scale) + frac
	if neg {
		minor = -minor
	}

	return Money(minor), nil
}

// String renders the amount as a decimal string, e.g. "25.99".
func (m Money) String() string {
	neg := m < 0

	abs := int64(m)
	if neg {
		abs = -abs
	}

	whole := abs / pow10(Scale)
	frac := abs % pow10(Scale)

	sign := ""
	if neg {
		sign = "-"
	}

	return fmt.Sprintf("%s%d.%02d", sign, whole, frac)
}

// Add returns the sum of two Money values. Callers are responsible for only
// adding amounts that share a currency code (Money carries no currency).
func (m Money) Add(other Money) Money {
	return m + other
}

// MarshalJSON renders Money as a decimal string so round-tripping through
// index.json never loses precision the way a JSON float would.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either a JSON string ("25.99") or a bare JSON number;
// the receipt DAO always writes strings, but index.json files produced by
// older schema versions may still carry numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, parseErr := Parse(s)
		if parseErr != nil {
			return parseErr
		}

		*m = v

		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decimal: unmarshaling amount: %w", err)
	}

	*m = Money(int64(f*float64(pow10(Scale)) + 0.5))

	return nil
}
