package invoice

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alapierre/go-nfse-client/nfse"
	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const serviceID = "0cc05183-d497-4745-bba7-842c283a7ca7"

type portal struct {
	srv *httptest.Server

	mu          sync.Mutex
	requests    int
	submissions []url.Values
	loginOK     bool
	downloadOK  bool
	submitPage  string
	pdfType     string
}

func newPortal(t *testing.T) *portal {
	p := &portal{loginOK: true, downloadOK: true, pdfType: "application/pdf"}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *portal) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++

	switch {
	case r.URL.Path == "/EmissorNacional/Login" && r.Method == http.MethodGet:
		fmt.Fprint(w, `<form><input name="__RequestVerificationToken" value="tok1"></form>`)
	case r.URL.Path == "/EmissorNacional/Login":
		if p.loginOK {
			fmt.Fprint(w, `<a href="/Logout">Sair</a>`)
			return
		}
		fmt.Fprint(w, `<div>Senha inválida</div>`)
	case r.URL.Path == "/EmissorNacional/DPS/Simplificada" && r.Method == http.MethodGet:
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/EmissorNacional/DPS/Simplificada":
		_ = r.ParseForm()
		p.submissions = append(p.submissions, r.PostForm)
		if p.submitPage != "" {
			fmt.Fprint(w, p.submitPage)
			return
		}
		fmt.Fprintf(w, `<a id="btnDownloadDANFSE" href="/EmissorNacional/Notas/Download/DANFSe/DOC%d">PDF</a>`, len(p.submissions))
	case strings.HasPrefix(r.URL.Path, "/emissornacional/api/EmissaoDPS/RecuperarInfoInscricao/"):
		fmt.Fprint(w, `{"inscricao":"12345678901","nomerazaosocial":"JOSE DA SILVA"}`)
	case strings.HasPrefix(r.URL.Path, "/EmissorNacional/Notas/Download/DANFSe/"):
		if !p.downloadOK {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", p.pdfType)
		fmt.Fprint(w, "%PDF-1.4 "+strings.TrimPrefix(r.URL.Path, "/EmissorNacional/Notas/Download/DANFSe/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *portal) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func newGateway(t *testing.T, p *portal) *Gateway {
	t.Helper()
	g, err := New(Config{
		Identity:     "12.345.678/0001-90",
		Secret:       "secret",
		ServiceID:    serviceID,
		BaseURL:      p.srv.URL,
		IssuerMEI:    true,
		Timeout:      5 * time.Second,
		RateEvery:    -1,
		Retry:        nfse.RetryPolicy{Attempts: 1},
		DocumentsDir: t.TempDir(),
	})
	require.NoError(t, err)
	g.now = func() time.Time { return time.Date(2026, 10, 17, 10, 0, 0, 0, time.Local) }
	return g
}

func items() []receipt.Item {
	return []receipt.Item{
		{Description: "Chave", Quantity: 2, UnitPrice: decimal.RequireFromString("12.5")},
		{Description: "Conserto", Quantity: 1, UnitPrice: decimal.RequireFromString("0.005")},
	}
}

func TestNew_Incomplete(t *testing.T) {
	_, err := New(Config{Identity: "1", Secret: "x", DocumentsDir: t.TempDir()})
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = New(Config{Identity: "1", Secret: "x", ServiceID: nfse.NilServiceID, DocumentsDir: t.TempDir()})
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = New(Config{Identity: "1", Secret: "x", ServiceID: "favourite", DocumentsDir: t.TempDir()})
	assert.Error(t, err)
}

func TestNilGateway(t *testing.T) {
	var g *Gateway
	assert.False(t, g.Available())

	_, err := g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = g.Document(uuid.NewString())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFile(t *testing.T) {
	p := newPortal(t)
	g := newGateway(t, p)

	f, err := g.File(context.Background(), Request{TaxID: "123.456.789-01", Items: items()})
	require.NoError(t, err)

	assert.Equal(t, "DOC1", f.DocumentID)
	assert.Equal(t, "JOSE DA SILVA", f.CustomerName)
	assert.Equal(t, "25.01", f.Amount.StringFixed(2))
	assert.Contains(t, f.Link, "chave=DOC1")
	_, err = uuid.Parse(f.FileID)
	require.NoError(t, err)

	require.Len(t, p.submissions, 1)
	form := p.submissions[0]
	assert.Equal(t, "25,01", form.Get("ValorServico"))
	assert.Equal(t, "2x Chave; 1x Conserto", form.Get("Descricao"))
	assert.Equal(t, "12345678901", form.Get("InscricaoCliente"))
	assert.Equal(t, serviceID, form.Get("IdServicoFavorito"))
	assert.Equal(t, "17/10/2026 10:00:00", form.Get("DataCompetencia"))

	pdf, err := g.Document(f.FileID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 DOC1", string(pdf))

	img, err := g.QRCode(f.FileID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))
}

func TestFile_InvalidTaxIDNeverReachesPortal(t *testing.T) {
	p := newPortal(t)
	g := newGateway(t, p)

	_, err := g.ValidateTaxID("123")
	assert.True(t, errors.Is(err, nfse.ErrValidation))

	_, err = g.File(context.Background(), Request{TaxID: "123", Items: items()})
	assert.True(t, errors.Is(err, nfse.ErrValidation))
	assert.Zero(t, p.count())
}

func TestFile_LoginRejected(t *testing.T) {
	p := newPortal(t)
	p.loginOK = false
	g := newGateway(t, p)

	f, err := g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	assert.Nil(t, f)
	assert.True(t, errors.Is(err, nfse.ErrAuthentication))
	assert.Empty(t, p.submissions)
}

func TestFile_DownloadFailureKeepsDocumentID(t *testing.T) {
	p := newPortal(t)
	p.downloadOK = false
	g := newGateway(t, p)

	f, err := g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotStored))
	require.NotNil(t, f)
	assert.Equal(t, "DOC1", f.DocumentID)
	assert.Empty(t, f.FileID)
}

func TestFile_ConcurrentFilingsAreDistinct(t *testing.T) {
	p := newPortal(t)
	g := newGateway(t, p)

	var wg sync.WaitGroup
	ids := make([]string, 3)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
			if assert.NoError(t, err) {
				ids[i] = f.DocumentID
			}
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"DOC1", "DOC2", "DOC3"}, ids)
}

func TestDocument_NotFound(t *testing.T) {
	g := newGateway(t, newPortal(t))

	for _, id := range []string{"../../etc/passwd", "", uuid.NewString()} {
		_, err := g.Document(id)
		assert.True(t, errors.Is(err, ErrNotFound), id)
	}
}

func TestFile_UnconfirmedSubmissionKeepsResponse(t *testing.T) {
	p := newPortal(t)
	p.submitPage = `<html><body><p>Processando NFS-e 7781</p></body></html>`
	g := newGateway(t, p)

	f, err := g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	assert.Nil(t, f)
	require.Error(t, err)
	assert.True(t, errors.Is(err, nfse.ErrProtocol))

	path, ok := SavedResponse(err)
	require.True(t, ok)
	assert.Equal(t, g.cfg.DocumentsDir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "diag-"))
	assert.Contains(t, err.Error(), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.submitPage, string(body))

	_, err = g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	second, ok := SavedResponse(err)
	require.True(t, ok)
	assert.NotEqual(t, path, second)
}

func TestFile_ErrorWithoutPageIsUnchanged(t *testing.T) {
	p := newPortal(t)
	p.loginOK = false
	g := newGateway(t, p)

	_, err := g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	require.Error(t, err)
	_, ok := SavedResponse(err)
	assert.False(t, ok)

	entries, err := os.ReadDir(g.cfg.DocumentsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFile_LoginPageInsteadOfPDFIsNotStored(t *testing.T) {
	p := newPortal(t)
	p.pdfType = "text/html; charset=utf-8"
	g := newGateway(t, p)

	f, err := g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotStored))
	require.NotNil(t, f)
	assert.Equal(t, "DOC1", f.DocumentID)
	assert.Empty(t, f.FileID)

	entries, err := os.ReadDir(g.cfg.DocumentsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFile_SessionsShareRateLimit(t *testing.T) {
	p := newPortal(t)
	g, err := New(Config{
		Identity:     "12.345.678/0001-90",
		Secret:       "secret",
		ServiceID:    serviceID,
		BaseURL:      p.srv.URL,
		Timeout:      5 * time.Second,
		RateEvery:    time.Hour,
		RateBurst:    7,
		Retry:        nfse.RetryPolicy{Attempts: 1},
		DocumentsDir: t.TempDir(),
	})
	require.NoError(t, err)
	g.now = func() time.Time { return time.Date(2026, 10, 17, 10, 0, 0, 0, time.Local) }

	// one filing is six requests
	_, err = g.File(context.Background(), Request{TaxID: "12345678901", Items: items()})
	require.NoError(t, err)
	require.Equal(t, 6, p.count())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = g.File(ctx, Request{TaxID: "12345678901", Items: items()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, nfse.ErrTransport))
	assert.Equal(t, 7, p.count())
}
