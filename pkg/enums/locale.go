package enums

import "strings"

// Locale is the language an account receives communication in.
type Locale string

const (
	LocaleEN Locale = "en"
	LocaleDE Locale = "de"
)

// DefaultLocale is used when an account has no usable preference.
const DefaultLocale = LocaleEN

// ParseLocale normalizes values such as "de-DE" or "EN"; unknown input falls back to DefaultLocale.
func ParseLocale(value string) Locale {
	v := strings.ToLower(strings.TrimSpace(value))
	if i := strings.IndexAny(v, "-_"); i > 0 {
		v = v[:i]
	}
	switch Locale(v) {
	case LocaleEN, LocaleDE:
		return Locale(v)
	default:
		return DefaultLocale
	}
}
