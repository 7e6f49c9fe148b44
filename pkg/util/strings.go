package util

import "strings"

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
