package receipt

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// FormatAmount renders d the Brazilian way, rounded to cents: 1234.5 -> "1.234,50".
func FormatAmount(d decimal.Decimal) string {
	d = d.Round(2)

	whole, frac, _ := strings.Cut(d.Abs().StringFixed(2), ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		// beyond int64, print without grouping
		return sign(d) + whole + "," + frac
	}
	return sign(d) + ptBR.Sprintf("%d", n) + "," + frac
}

// FormatMoney is FormatAmount with the currency symbol: "R$ 1.234,50".
func FormatMoney(d decimal.Decimal) string {
	return "R$ " + FormatAmount(d)
}

func sign(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-"
	}
	return ""
}
