package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_KeepsCookiesAndFollowsRedirects(t *testing.T) {

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		http.Redirect(w, r, "/landing", http.StatusFound)
	})
	mux.HandleFunc("/landing", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sid")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("hello " + c.Value))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(srv.URL, WithRateLimit(0, 0))
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/start", nil)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "hello abc", string(resp.Body))

	resp, err = c.Get(context.Background(), "/landing", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_PostFormSendsEmptyFields(t *testing.T) {

	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRateLimit(0, 0))
	require.NoError(t, err)

	form := url.Values{}
	form.Set("Descricao", "2x Copia")
	form.Set("Obra.CEP", "")

	resp, err := c.PostForm(context.Background(), "/submit", form)
	require.NoError(t, err)
	assert.Equal(t, "text/html", resp.ContentType())

	assert.Equal(t, "2x Copia", got.Get("Descricao"))
	_, present := got["Obra.CEP"]
	assert.True(t, present, "empty field must be sent")
}

func TestClient_GetQuery(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Query().Get("data")))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRateLimit(0, 0))
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), "/ctx", url.Values{"data": {"2026-10-17"}})
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", string(resp.Body))
}

func TestClient_TimeoutIsTransportError(t *testing.T) {

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c, err := New(srv.URL, WithTimeout(50*time.Millisecond), WithRateLimit(0, 0))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/slow", nil)
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Timeout())
	assert.Equal(t, "/slow", te.Path)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
}

func TestClient_SharedLimiter(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	shared := NewLimiter(time.Hour, 1)
	first, err := New(srv.URL, WithLimiter(shared))
	require.NoError(t, err)
	second, err := New(srv.URL, WithLimiter(shared))
	require.NoError(t, err)

	_, err = first.Get(context.Background(), "/", nil)
	require.NoError(t, err)

	// the only token is spent, the wait is cut short by the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = second.Get(ctx, "/", nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "/", te.Path)

	own, err := New(srv.URL, WithRateLimit(time.Hour, 1))
	require.NoError(t, err)
	_, err = own.Get(context.Background(), "/", nil)
	assert.NoError(t, err)
}

func TestClient_SentRequestOutlivesCancel(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithRateLimit(0, 0))
	require.NoError(t, err)

	resp, err := c.Get(ctx, "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp.Body))
}
