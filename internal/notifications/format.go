package notifications

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kitafinder-backend/pkg/enums"
)

// FormatAmount renders a processor amount in minor units for the given locale,
// e.g. "EUR 49.00" in English and "49,00 EUR" in German.
func FormatAmount(minor int64, currency enums.Currency, locale enums.Locale) string {
	exp := currency.MinorUnitExponent()
	value := decimal.New(minor, -exp).StringFixed(exp)
	code := currency.String()
	if locale == enums.LocaleDE {
		return strings.Replace(value, ".", ",", 1) + " " + code
	}
	return code + " " + value
}
