package nfse

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alapierre/go-nfse-client/nfse/api"
	"github.com/stretchr/testify/require"
)

const (
	testServiceID = "0cc05183-d497-4745-bba7-842c283a7ca7"
	loginPage     = `<html><body><form method="post">
<input name="__RequestVerificationToken" type="hidden" value="tok1">
<input name="Inscricao"><input name="Senha" type="password">
</form></body></html>`
	loggedInPage = `<html><body><nav><a href="/EmissorNacional/Logout">Sair</a></nav></body></html>`
)

var testNow = time.Date(2026, 10, 17, 14, 30, 5, 0, time.Local)

// fakePortal imitates the parts of the NFS-e portal the session talks to.
type fakePortal struct {
	srv *httptest.Server

	mu          sync.Mutex
	requests    int
	lookups     int
	downloads   int
	loginForm   url.Values
	contextDays []string
	submissions []url.Values

	loginPage      string
	loginResult    string
	contextStatus  int
	lookupStatus   int
	lookupBody     string
	submitStatus   int
	submitBody     func(n int) string
	downloadStatus int
}

func newFakePortal(t *testing.T) *fakePortal {
	p := &fakePortal{
		loginPage:      loginPage,
		loginResult:    loggedInPage,
		contextStatus:  http.StatusOK,
		lookupStatus:   http.StatusOK,
		lookupBody:     `{"inscricao":"12345678901","nomerazaosocial":"JOSE DA SILVA"}`,
		submitStatus:   http.StatusOK,
		downloadStatus: http.StatusOK,
		submitBody: func(n int) string {
			return fmt.Sprintf(`<html><body><div class="alert alert-success">NFS-e emitida</div>
<a id="btnDownloadDANFSE" class="btn" href="/EmissorNacional/Notas/Download/DANFSe/DOC%d">Baixar DANFSe</a>
</body></html>`, n)
		},
	}
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePortal) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++

	authenticated := false
	if c, err := r.Cookie("sid"); err == nil && c.Value == "s1" {
		authenticated = true
	}

	switch {
	case r.URL.Path == loginPath && r.Method == http.MethodGet:
		_, _ = w.Write([]byte(p.loginPage))

	case r.URL.Path == loginPath && r.Method == http.MethodPost:
		_ = r.ParseForm()
		p.loginForm = r.PostForm
		if r.PostForm.Get("__RequestVerificationToken") == "tok1" && strings.Contains(p.loginResult, "Sair") {
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "s1", Path: "/"})
		}
		_, _ = w.Write([]byte(p.loginResult))

	case !authenticated:
		http.Redirect(w, r, loginPath, http.StatusFound)

	case r.URL.Path == contextPath && r.Method == http.MethodGet:
		p.contextDays = append(p.contextDays, r.URL.Query().Get("data"))
		w.WriteHeader(p.contextStatus)

	case r.URL.Path == contextPath && r.Method == http.MethodPost:
		_ = r.ParseForm()
		p.submissions = append(p.submissions, r.PostForm)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(p.submitStatus)
		_, _ = w.Write([]byte(p.submitBody(len(p.submissions))))

	case strings.HasPrefix(r.URL.Path, lookupPath):
		p.lookups++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(p.lookupStatus)
		_, _ = w.Write([]byte(p.lookupBody))

	case strings.HasPrefix(r.URL.Path, downloadPath):
		p.downloads++
		if p.downloadStatus != http.StatusOK {
			w.WriteHeader(p.downloadStatus)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 " + strings.TrimPrefix(r.URL.Path, downloadPath)))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *fakePortal) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func (p *fakePortal) newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	all := append([]Option{
		WithBaseURL(p.srv.URL),
		WithTransport(api.WithRateLimit(0, 0), api.WithTimeout(5*time.Second)),
		WithRetryPolicy(RetryPolicy{Attempts: 2, Delay: time.Millisecond, Multiplier: 1}),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	s, err := NewSession(Restricted, all...)
	require.NoError(t, err)
	return s
}
