package server

import (
	"strings"

	"github.com/alapierre/go-nfse-client/history"
	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/shopspring/decimal"
)

type itemView struct {
	history.Item
	UnitPriceFormatted string `json:"valor_unitario_formatado"`
}

type entryView struct {
	history.Entry
	Items          []itemView `json:"itens"`
	TotalFormatted string     `json:"total_formatado"`
}

type reportView struct {
	Entries                 []entryView     `json:"cupons"`
	TotalActive             decimal.Decimal `json:"total_ativos"`
	TotalCancelled          decimal.Decimal `json:"total_cancelados"`
	Total                   decimal.Decimal `json:"total_geral"`
	Count                   int             `json:"quantidade"`
	TotalActiveFormatted    string          `json:"total_ativos_formatado"`
	TotalCancelledFormatted string          `json:"total_cancelados_formatado"`
	TotalFormatted          string          `json:"total_geral_formatado"`
	DateFormatted           string          `json:"data_formatada,omitempty"`
}

func newReportView(r history.Report) reportView {
	v := reportView{
		Entries:                 make([]entryView, 0, len(r.Entries)),
		TotalActive:             r.TotalActive,
		TotalCancelled:          r.TotalCancelled,
		Total:                   r.Total,
		Count:                   r.Count,
		TotalActiveFormatted:    receipt.FormatAmount(r.TotalActive),
		TotalCancelledFormatted: receipt.FormatAmount(r.TotalCancelled),
		TotalFormatted:          receipt.FormatAmount(r.Total),
	}
	for _, e := range r.Entries {
		ev := entryView{Entry: e, TotalFormatted: formatStored(e.Total), Items: make([]itemView, 0, len(e.Items))}
		for _, it := range e.Items {
			ev.Items = append(ev.Items, itemView{Item: it, UnitPriceFormatted: formatStored(it.UnitPrice)})
		}
		v.Entries = append(v.Entries, ev)
	}
	return v
}

// formatStored formats an amount kept as text in the history file.
func formatStored(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return strings.Replace(s, ".", ",", 1)
	}
	return receipt.FormatAmount(d)
}
