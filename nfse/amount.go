package nfse

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders d with two fraction digits and a comma separator, the way
// the portal form expects it: 20 -> "20,00", 1234.5 -> "1234,50".
func FormatAmount(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

// ParseAmount reads an exact decimal from user or config input. Both "1234.5" and
// "1234,50" are accepted; thousands separators are not.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &Error{Kind: KindValidation, Op: "parseAmount", Message: "invalid amount " + s, Err: err}
	}
	return d, nil
}
