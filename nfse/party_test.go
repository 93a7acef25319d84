package nfse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeParty(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   string
		wantName string
	}{
		{name: "full", body: `{"inscricao":"12345678901","nomerazaosocial":"JOSE DA SILVA"}`, wantID: "12345678901", wantName: "JOSE DA SILVA"},
		{name: "case insensitive keys", body: `{"Inscricao":"12345678901","NomeRazaoSocial":" MARIA "}`, wantID: "12345678901", wantName: "MARIA"},
		{name: "numeric identifier", body: `{"inscricao":12345678901}`, wantID: "12345678901"},
		{name: "missing", body: `{}`, wantID: "99999999999"},
		{name: "nulls", body: `{"inscricao":null,"nomerazaosocial":null}`, wantID: "99999999999"},
		{name: "unexpected types", body: `{"inscricao":{"a":1},"nomerazaosocial":[1]}`, wantID: "99999999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := decodeParty("99999999999", []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, TaxID("99999999999"), p.TaxID)
			assert.Equal(t, tt.wantID, p.Identifier)
			assert.Equal(t, tt.wantName, p.Name)
		})
	}
}

func TestDecodeParty_NotObject(t *testing.T) {
	for _, body := range []string{``, `[]`, `"x"`, `null`, `<html></html>`} {
		_, err := decodeParty("99999999999", []byte(body))
		assert.Error(t, err, body)
	}
}

func TestDocumentIDFromHref(t *testing.T) {
	for href, want := range map[string]string{
		"/EmissorNacional/Notas/Download/DANFSe/ABC123":                         "ABC123",
		"https://www.nfse.gov.br/EmissorNacional/Notas/Download/DANFSe/ABC123/": "ABC123",
		"/EmissorNacional/Notas/Download/DANFSe/ABC123?inline=1":                "ABC123",
		" /EmissorNacional/Notas/Download/DANFSe/ABC123 ":                       "ABC123",
		"/EmissorNacional/Notas/Download/DANFSe/":                               "",
		"":  "",
		"/": "",
	} {
		assert.Equal(t, want, documentIDFromHref(href), href)
	}
}
