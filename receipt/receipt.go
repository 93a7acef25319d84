// Package receipt turns the items typed at the counter into the text of a paper
// receipt and into the amount and description of the matching service invoice.
package receipt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Item struct {
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// InputError is a mistake in what the cashier typed. Its message is shown as is.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func inputErrorf(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// ParseItems reads the three parallel form columns. A row without description, or
// with neither quantity nor value, is an unused form line and is skipped. Values may
// carry "R$", spaces and a decimal comma.
func ParseItems(descriptions, quantities, values []string) ([]Item, error) {
	n := min(len(descriptions), len(quantities), len(values))

	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		desc := strings.TrimSpace(descriptions[i])
		qtyText := strings.TrimSpace(quantities[i])
		valText := cleanValue(values[i])

		if desc == "" || (qtyText == "" && valText == "") {
			continue
		}

		qty, err := strconv.Atoi(qtyText)
		if err != nil || qty <= 0 {
			return nil, inputErrorf("Item inválido: desc=%s, qtd=%s, valor=%s", desc, qtyText, valText)
		}
		price, err := decimal.NewFromString(valText)
		if err != nil || !price.IsPositive() {
			return nil, inputErrorf("Item inválido: desc=%s, qtd=%s, valor=%s", desc, qtyText, valText)
		}

		items = append(items, Item{Description: desc, Quantity: qty, UnitPrice: price})
	}

	if len(items) == 0 {
		return nil, &InputError{Message: "É necessário pelo menos um item válido."}
	}
	return items, nil
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.ReplaceAll(s, ",", ".")
}

func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// InvoiceAmount is the exact total rounded to cents.
func InvoiceAmount(items []Item) decimal.Decimal {
	return Total(items).Round(2)
}

// InvoiceDescription lists the items as "2x Cópia de chave; 1x Conserto".
func InvoiceDescription(items []Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%dx %s", it.Quantity, strings.TrimSpace(it.Description)))
	}
	return strings.Join(parts, "; ")
}
