// Package api is the HTTP layer used to talk to the NFS-e portal. The portal has
// no real API, so the client is shaped like a browser: it keeps cookies between
// calls, follows redirects and posts url-encoded forms.
package api

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/alapierre/go-nfse-client/nfse/util"
	"github.com/go-faster/errors"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

var logger = logrus.WithField("component", "nfse.api")

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) go-nfse-client"
	DefaultRateEvery = 500 * time.Millisecond
	DefaultRateBurst = 2
	maxRedirects     = 10
)

type Client struct {
	rest    *resty.Client
	baseURL string
	limiter *rate.Limiter
}

type options struct {
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	userAgent  string
}

type Option func(*options)

// WithTimeout bounds every single round trip, redirects included.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewLimiter allows one request every interval with the given burst. A
// non-positive interval means no limit.
func NewLimiter(every time.Duration, burst int) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(every), burst)
}

// WithRateLimit gives the client a limiter of its own.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(o *options) { o.limiter = NewLimiter(every, burst) }
}

// WithLimiter makes clients share l, so that all their sessions together stay
// under the portal's rate.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		if l != nil {
			o.limiter = l
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// New creates a client with its own cookie jar. Clients must not be shared between
// sessions: the jar is the portal session.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := options{
		timeout:   DefaultTimeout,
		limiter:   NewLimiter(DefaultRateEvery, DefaultRateBurst),
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base URL must include scheme and host, got: %q", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "cookie jar")
	}

	var rest *resty.Client
	if o.httpClient != nil {
		rest = resty.NewWithClient(o.httpClient)
	} else {
		rest = resty.New()
	}

	base := strings.TrimRight(u.String(), "/")
	rest.SetBaseURL(base).
		SetTimeout(o.timeout).
		SetCookieJar(jar).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)).
		SetHeader("User-Agent", o.userAgent)

	return &Client{rest: rest, baseURL: base, limiter: o.limiter}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get fetches path (relative to the base URL) with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, func(r *resty.Request) {
		if len(query) > 0 {
			r.SetQueryParamsFromValues(query)
		}
	})
}

// PostForm sends form as application/x-www-form-urlencoded. Keys with empty values
// are sent as "key=" and never dropped.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, func(r *resty.Request) {
		r.SetFormDataFromValues(form)
	})
}

// do waits for the limiter while ctx allows it. Once sent, a request is not
// cancelled with ctx; only the client timeout bounds it.
func (c *Client) do(ctx context.Context, method, path string, prepare func(*resty.Request)) (*Response, error) {

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	r := c.rest.R().SetContext(context.WithoutCancel(ctx))
	if util.TraceEnabled() {
		r.EnableTrace()
	}
	prepare(r)

	resp, err := r.Execute(method, path)
	printTraceInfo(method, path, resp, err)
	if err != nil {
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		URL:        resp.Request.URL,
	}, nil
}

func printTraceInfo(method, path string, resp *resty.Response, err error) {

	if !util.TraceEnabled() || resp == nil || resp.Request == nil {
		return
	}

	ti := resp.Request.TraceInfo()
	entry := logger.WithFields(logrus.Fields{
		"method":    method,
		"path":      path,
		"url":       resp.Request.URL,
		"status":    resp.StatusCode(),
		"time":      resp.Time(),
		"dns":       ti.DNSLookup,
		"conn":      ti.ConnTime,
		"tls":       ti.TLSHandshake,
		"server":    ti.ServerTime,
		"total":     ti.TotalTime,
		"reused":    ti.IsConnReused,
		"attempt":   ti.RequestAttempt,
		"remote":    ti.RemoteAddr,
		"has_error": err != nil,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("portal round trip")

	if util.BodyDumpEnabled() {
		logger.Debugf("response body:\n%s", resp.String())
	}
}
