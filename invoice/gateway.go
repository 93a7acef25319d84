// Package invoice files an NFS-e for an issued receipt. It owns the portal
// credentials, runs one nfse.Session per filing and keeps the downloaded DANFSe on
// disk under a local id.
package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alapierre/go-nfse-client/nfse"
	"github.com/alapierre/go-nfse-client/nfse/api"
	"github.com/alapierre/go-nfse-client/nfse/mutex"
	"github.com/alapierre/go-nfse-client/nfse/qr"
	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var logger = logrus.WithField("component", "invoice")

var (
	// ErrUnavailable is returned by a gateway that was not configured.
	ErrUnavailable = errors.New("NFS-e issuing is not available")
	ErrNotFound    = errors.New("document not found")
	// ErrNotStored means the invoice exists on the portal but its DANFSe could not
	// be downloaded or saved. The returned Filing still carries the document id.
	ErrNotStored = errors.New("invoice issued but DANFSe not stored")
)

// ResponseSavedError is a portal failure whose raw response page was written to
// Path for the operator.
type ResponseSavedError struct {
	Path string
	Err  error
}

func (e *ResponseSavedError) Error() string {
	return fmt.Sprintf("%v (portal response saved to %s)", e.Err, e.Path)
}

func (e *ResponseSavedError) Unwrap() error {
	return e.Err
}

// SavedResponse returns the file holding the portal page behind err, if any.
func SavedResponse(err error) (string, bool) {
	var e *ResponseSavedError
	if errors.As(err, &e) {
		return e.Path, true
	}
	return "", false
}

type Config struct {
	Identity     string // issuer CPF/CNPJ used to log in
	Secret       string
	ServiceID    string // favourite service registered on the portal
	Environment  nfse.Environment
	BaseURL      string // overrides Environment
	IssuerMEI    bool
	Timeout      time.Duration
	RateEvery    time.Duration // zero with zero burst means the api defaults
	RateBurst    int
	Retry        nfse.RetryPolicy
	DocumentsDir string
}

func (c Config) validate() error {
	var missing []string
	if strings.TrimSpace(c.Identity) == "" {
		missing = append(missing, "identity")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if strings.TrimSpace(c.ServiceID) == "" || c.ServiceID == nfse.NilServiceID {
		missing = append(missing, "service id")
	}
	if c.DocumentsDir == "" {
		missing = append(missing, "documents dir")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrUnavailable, "missing %s", strings.Join(missing, ", "))
	}
	if _, err := uuid.Parse(strings.TrimSpace(c.ServiceID)); err != nil {
		return errors.Wrap(err, "service id is not a GUID")
	}
	return nil
}

type Request struct {
	TaxID       string
	Items       []receipt.Item
	Competence  time.Time // zero means now
	Withholding bool
}

// Filing describes an invoice issued on the portal. FileID is empty when the
// DANFSe was not stored.
type Filing struct {
	FileID       string          `json:"arquivo,omitempty"`
	DocumentID   string          `json:"documento"`
	Customer     nfse.Party      `json:"-"`
	CustomerName string          `json:"tomador"`
	Amount       decimal.Decimal `json:"valor"`
	Description  string          `json:"descricao"`
	Link         string          `json:"link"`
	FiledAt      time.Time       `json:"data_emissao"`
}

type Gateway struct {
	cfg    Config
	base   string
	logins mutex.KeyedMutex[string]
	// shared by every session, whatever the issuer
	limiter *rate.Limiter
	now     func() time.Time
}

// New builds a gateway or fails when the configuration is incomplete. A nil
// *Gateway is valid and reports itself unavailable.
func New(cfg Config) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DocumentsDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create documents dir")
	}

	base := cfg.BaseURL
	if base == "" {
		base = cfg.Environment.BaseURL()
	}

	every, burst := cfg.RateEvery, cfg.RateBurst
	if every == 0 && burst == 0 {
		every, burst = api.DefaultRateEvery, api.DefaultRateBurst
	}

	logger.WithFields(logrus.Fields{"env": cfg.Environment, "base": base}).Info("NFS-e issuing enabled")
	return &Gateway{cfg: cfg, base: base, limiter: api.NewLimiter(every, burst), now: time.Now}, nil
}

func (g *Gateway) Available() bool {
	return g != nil
}

// ValidateTaxID checks the customer id before anything is printed.
func (g *Gateway) ValidateTaxID(taxID string) (nfse.TaxID, error) {
	return nfse.NormalizeTaxID(taxID)
}

func (g *Gateway) newSession() (*nfse.Session, error) {
	opts := []nfse.Option{
		nfse.WithBaseURL(g.base),
		nfse.WithTransport(api.WithTimeout(g.cfg.Timeout), api.WithLimiter(g.limiter)),
		nfse.WithIssuerMEI(g.cfg.IssuerMEI),
		nfse.WithClock(g.now),
	}
	if g.cfg.Retry.Attempts > 0 {
		opts = append(opts, nfse.WithRetryPolicy(g.cfg.Retry))
	}
	return nfse.NewSession(g.cfg.Environment, opts...)
}

// File runs the whole portal sequence for one receipt. Logins of the same issuer
// are serialized because the portal keeps a single session per account.
func (g *Gateway) File(ctx context.Context, req Request) (*Filing, error) {
	if !g.Available() {
		return nil, ErrUnavailable
	}

	taxID, err := nfse.NormalizeTaxID(req.TaxID)
	if err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, errors.New("no items to invoice")
	}

	competence := req.Competence
	if competence.IsZero() {
		competence = g.now()
	}
	inv := nfse.Invoice{
		ServiceID:   g.cfg.ServiceID,
		Amount:      receipt.InvoiceAmount(req.Items),
		Description: receipt.InvoiceDescription(req.Items),
		Competence:  competence,
		Withholding: req.Withholding,
	}

	issuer := strings.TrimSpace(g.cfg.Identity)
	if err := g.logins.Lock(ctx, issuer); err != nil {
		return nil, errors.Wrap(err, "wait for portal login")
	}
	defer g.logins.Unlock(issuer)

	s, err := g.newSession()
	if err != nil {
		return nil, errors.Wrap(err, "create portal session")
	}

	if err := s.Login(ctx, issuer, g.cfg.Secret); err != nil {
		return nil, g.keepResponse(err)
	}
	if err := s.OpenContext(ctx, competence); err != nil {
		return nil, g.keepResponse(err)
	}
	party, err := s.ResolveParty(ctx, string(taxID))
	if err != nil {
		return nil, g.keepResponse(err)
	}
	issued, err := s.SubmitInvoice(ctx, inv)
	if err != nil {
		return nil, g.keepResponse(err)
	}

	f := &Filing{
		DocumentID:   issued.ID,
		Customer:     party,
		CustomerName: party.Name,
		Amount:       inv.Amount,
		Description:  inv.Description,
		FiledAt:      g.now(),
	}
	if link, err := qr.Link(g.base, issued.ID); err == nil {
		f.Link = link
	}

	log := logger.WithFields(logrus.Fields{"document": issued.ID, "amount": nfse.FormatAmount(inv.Amount)})

	doc, err := s.FetchDocument(ctx, issued.ID)
	if err != nil {
		log.WithError(err).Warn("invoice issued, DANFSe download failed")
		return f, errors.Wrapf(ErrNotStored, "document %s: %v", issued.ID, err)
	}
	fileID, err := g.store(doc)
	if err != nil {
		log.WithError(err).Warn("invoice issued, DANFSe not saved")
		return f, errors.Wrapf(ErrNotStored, "document %s: %v", issued.ID, err)
	}
	f.FileID = fileID

	log.WithField("file", fileID).Info("invoice filed")
	return f, nil
}

// keepResponse writes the portal page carried by a session error to the documents
// directory, under a fresh name, and points the returned error at it.
func (g *Gateway) keepResponse(err error) error {
	var e *nfse.Error
	if !errors.As(err, &e) || len(e.Body) == 0 {
		return err
	}

	path := filepath.Join(g.cfg.DocumentsDir, "diag-"+uuid.NewString()+".html")
	log := logger.WithFields(logrus.Fields{"op": e.Op, "kind": e.Kind, "status": e.Status})
	if werr := os.WriteFile(path, e.Body, 0o644); werr != nil {
		log.WithError(werr).Error("portal response not saved")
		return err
	}

	log.WithField("file", path).Warn("portal response saved")
	return &ResponseSavedError{Path: path, Err: err}
}
