package decimal

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// ValidateCurrencyCode checks that code is a well-formed, recognized
// ISO-4217 alphabetic currency code (e.g. "CAD", "USD").
func ValidateCurrencyCode(code string) error {
	if _, err := currency.ParseISO(strings.ToUpper(code)); err != nil {
		return fmt.Errorf("decimal: invalid currency code %q: %w", code, err)
	}

	return nil
}
