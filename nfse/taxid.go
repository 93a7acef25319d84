package nfse

import (
	"fmt"
	"regexp"
)

// TaxID is a normalized CPF (11 digits) or CNPJ (14 digits).
type TaxID string

type TaxIDKind int

const (
	Individual   TaxIDKind = iota + 1 // CPF
	Organization                      // CNPJ
)

var nonDigitsRe = regexp.MustCompile(`\D+`)

// NormalizeTaxID strips every non-digit and checks the length. Check digits are not
// verified: the portal lookup is the authority on whether the number exists.
func NormalizeTaxID(s string) (TaxID, error) {
	digits := nonDigitsRe.ReplaceAllString(s, "")
	switch len(digits) {
	case 11, 14:
		return TaxID(digits), nil
	}
	e := newError(KindValidation, "normalizeTaxID",
		fmt.Sprintf("CPF/CNPJ must have 11 or 14 digits, got %d", len(digits)))
	return "", e
}

func (k TaxIDKind) String() string {
	switch k {
	case Individual:
		return "CPF"
	case Organization:
		return "CNPJ"
	}
	return "unknown"
}

func (t TaxID) Kind() TaxIDKind {
	if len(t) == 14 {
		return Organization
	}
	return Individual
}

// Formatted renders the usual punctuation: 000.000.000-00 or 00.000.000/0000-00.
func (t TaxID) Formatted() string {
	s := string(t)
	switch len(s) {
	case 11:
		return s[0:3] + "." + s[3:6] + "." + s[6:9] + "-" + s[9:11]
	case 14:
		return s[0:2] + "." + s[2:5] + "." + s[5:8] + "/" + s[8:12] + "-" + s[12:14]
	}
	return s
}
