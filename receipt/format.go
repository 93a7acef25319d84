package receipt

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultWidth = 32
	MinWidth     = 24
)

// Header is the fixed identity of the shop printed on every receipt.
type Header struct {
	StoreName string
	TaxID     string
	Address   string
	Phones    string
	Footer    string
}

var DefaultHeader = Header{
	StoreName: "CHAVEIRO BROTERO",
	TaxID:     "33.198.084/0001-79",
	Address:   "Rua Conselheiro Brotero, 946",
	Phones:    "Tel: (11) 3825-4871  Cel: (11) 99112-3798",
	Footer:    "Obrigado pela preferência!",
}

// Formatter lays out receipts for a thermal printer of Width columns.
type Formatter struct {
	Width  int
	Header Header
}

func NewFormatter(width int, header Header) Formatter {
	if width == 0 {
		width = DefaultWidth
	}
	return Formatter{Width: max(width, MinWidth), Header: header}
}

func (f Formatter) width() int {
	if f.Width == 0 {
		return DefaultWidth
	}
	return max(f.Width, MinWidth)
}

// Compose builds the receipt text. serviceOrder is printed only for Samaritan
// services. The result always ends with a newline.
func (f Formatter) Compose(items []Item, samaritan bool, serviceOrder string, when time.Time) string {
	w := f.width()
	sep := strings.Repeat("-", w)
	h := f.Header

	lines := []string{
		sep,
		center(h.StoreName, w),
		"CNPJ: " + h.TaxID,
		h.Address,
		h.Phones,
	}
	if samaritan {
		lines = append(lines, center("SERVICO SAMARITANO", w))
	}
	lines = append(lines, sep)

	for _, it := range items {
		line := fmt.Sprintf("%dx %s - %s", it.Quantity, strings.TrimSpace(it.Description), FormatMoney(it.Subtotal()))
		lines = append(lines, wrap(line, w)...)
	}

	if samaritan && strings.TrimSpace(serviceOrder) != "" {
		lines = append(lines, sep, "OS: "+strings.TrimSpace(serviceOrder))
	}

	lines = append(lines,
		sep,
		"Total: "+FormatMoney(Total(items)),
		sep,
		"Data: "+when.Format("02/01/2006 15:04"),
		h.Footer,
		sep,
	)

	return strings.Join(lines, "\n") + "\n"
}

func center(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return strings.Repeat(" ", (width-n)/2) + s
}

// wrap breaks s on spaces into lines of at most width runes; words longer than a
// line are split.
func wrap(s string, width int) []string {
	var lines []string
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
	}

	for _, word := range strings.Fields(s) {
		rw := []rune(word)
		for len(rw) > 0 {
			room := width
			if len(cur) > 0 {
				room = width - len(cur) - 1
			}
			if len(rw) <= room {
				if len(cur) > 0 {
					cur = append(cur, ' ')
				}
				cur = append(cur, rw...)
				rw = nil
				continue
			}
			if len(cur) > 0 {
				flush()
				continue
			}
			cur = append(cur, rw[:width]...)
			rw = rw[width:]
			flush()
		}
	}
	flush()
	return lines
}
