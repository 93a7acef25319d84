package nfse

import (
	"bytes"
	"regexp"

	"github.com/alapierre/go-nfse-client/nfse/scrape"
)

// Portal paths, relative to Environment.BaseURL.
const (
	loginPath    = "/EmissorNacional/Login"
	contextPath  = "/EmissorNacional/DPS/Simplificada"
	lookupPath   = "/emissornacional/api/EmissaoDPS/RecuperarInfoInscricao/"
	downloadPath = "/EmissorNacional/Notas/Download/DANFSe/"
)

// Everything the client reads out of portal HTML is declared here.
var (
	antiForgeryToken = scrape.Field{
		Name:       "anti-forgery token",
		Strategies: []scrape.Selector{{Tag: "input", Attr: "name", Value: "__RequestVerificationToken"}},
		Attr:       "value",
	}

	validationSummary = scrape.Field{
		Name: "validation summary",
		Strategies: []scrape.Selector{
			{Tag: "div", Class: "validation-summary-errors"},
			{Class: "validation-summary-errors"},
		},
	}

	downloadLink = scrape.Field{
		Name: "DANFSe download link",
		Strategies: []scrape.Selector{
			{Tag: "a", ID: "btnDownloadDANFSE"},
			{Tag: "a", Attr: "href", Pattern: regexp.MustCompile(`/Download/DANFSe/`)},
		},
		Attr: "href",
	}
)

// SessionProbe decides whether a page was rendered for a logged-in user.
type SessionProbe func(body []byte) bool

// LogoutMarkerProbe looks for the label of the logout link.
func LogoutMarkerProbe(marker string) SessionProbe {
	m := []byte(marker)
	return func(body []byte) bool {
		return bytes.Contains(body, m)
	}
}

var DefaultSessionProbe = LogoutMarkerProbe("Sair")
