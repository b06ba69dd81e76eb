package auctions

import "github.com/shopspring/decimal"

// FormatAmount renders minor units as a two-decimal major-unit string, e.g. 10550 -> "105.50"
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
