package enums

import "strings"

// Currency is an ISO 4217 code as reported by the payment processor (lowercase on the wire).
type Currency string

var zeroDecimalCurrencies = map[Currency]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// ParseCurrency normalizes a raw processor currency code.
func ParseCurrency(value string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(value)))
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// MinorUnitExponent is the number of decimal places between the minor unit
// the processor reports and the major unit shown to people.
func (c Currency) MinorUnitExponent() int32 {
	if _, ok := zeroDecimalCurrencies[c]; ok {
		return 0
	}
	return 2
}
