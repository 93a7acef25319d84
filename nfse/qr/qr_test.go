package qr

import (
	"bytes"
	"testing"

	"github.com/alapierre/go-nfse-client/nfse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationLink(t *testing.T) {
	link, err := VerificationLink(nfse.Prod, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "https://www.nfse.gov.br/ConsultaPublica/?chave=ABC123&tpc=1", link)

	link, err = VerificationLink(nfse.Restricted, " ABC123 ")
	require.NoError(t, err)
	assert.Equal(t, "https://www.producaorestrita.nfse.gov.br/ConsultaPublica/?chave=ABC123&tpc=1", link)
}

func TestLink_DropsBasePath(t *testing.T) {
	link, err := Link("http://127.0.0.1:8080/EmissorNacional/?x=1#top", "a b")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/ConsultaPublica/?chave=a+b&tpc=1", link)
}

func TestLink_Invalid(t *testing.T) {
	_, err := Link("", "ABC123")
	assert.Error(t, err)

	_, err = Link("www.nfse.gov.br", "ABC123")
	assert.Error(t, err)

	_, err = Link("https://www.nfse.gov.br", "  ")
	assert.Error(t, err)
}

func TestCode(t *testing.T) {
	img, link, err := Code("https://www.nfse.gov.br", "ABC123")
	require.NoError(t, err)
	assert.Contains(t, link, "chave=ABC123")
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))
}
