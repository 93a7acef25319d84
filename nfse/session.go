package nfse

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/alapierre/go-nfse-client/nfse/api"
	"github.com/alapierre/go-nfse-client/nfse/scrape"
	"github.com/go-faster/errors"
	"github.com/qmuntal/stateless"
	"github.com/sirupsen/logrus"
)

type State string

const (
	Unauthenticated State = "Unauthenticated"
	Authenticated   State = "Authenticated"
	ContextOpen     State = "ContextOpen"
	PartyResolved   State = "PartyResolved"
	Submitted       State = "Submitted"
)

type trigger string

const (
	triggerLogin        trigger = "login"
	triggerOpenContext  trigger = "openContext"
	triggerResolveParty trigger = "resolveParty"
	triggerSubmit       trigger = "submitInvoice"
	triggerDropParty    trigger = "dropParty"
	triggerCloseContext trigger = "closeContext"
)

// IssuedDocument is produced only after the portal rendered a download link.
type IssuedDocument struct {
	ID   string
	Href string
}

// Document is the downloaded DANFSe, passed through as received.
type Document struct {
	ID          string
	ContentType string
	Content     []byte
}

// Session is one authenticated conversation with the portal. It is not safe for
// concurrent use; file concurrent invoices with separate sessions.
type Session struct {
	http      *api.Client
	sm        *stateless.StateMachine
	probe     SessionProbe
	retry     RetryPolicy
	now       func() time.Time
	issuerMEI bool

	contextDate    time.Time
	party          *Party
	lookup         *partyLookup
	lastDocumentID string
}

type sessionConfig struct {
	baseURL   string
	apiOpts   []api.Option
	probe     SessionProbe
	retry     RetryPolicy
	now       func() time.Time
	issuerMEI bool
}

type Option func(*sessionConfig)

// WithBaseURL overrides the environment URL (mirrors, tests).
func WithBaseURL(u string) Option {
	return func(c *sessionConfig) { c.baseURL = u }
}

func WithTransport(opts ...api.Option) Option {
	return func(c *sessionConfig) { c.apiOpts = append(c.apiOpts, opts...) }
}

// WithSessionProbe replaces the check that tells a logged-in page apart.
func WithSessionProbe(p SessionProbe) Option {
	return func(c *sessionConfig) {
		if p != nil {
			c.probe = p
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *sessionConfig) { c.retry = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *sessionConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIssuerMEI sets EmitenteEhMEINaDataAtual; the default is true.
func WithIssuerMEI(mei bool) Option {
	return func(c *sessionConfig) { c.issuerMEI = mei }
}

func NewSession(env Environment, opts ...Option) (*Session, error) {
	cfg := sessionConfig{
		probe:     DefaultSessionProbe,
		retry:     DefaultRetryPolicy(),
		now:       time.Now,
		issuerMEI: true,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.baseURL == "" {
		cfg.baseURL = env.BaseURL()
	}

	cli, err := api.New(cfg.baseURL, cfg.apiOpts...)
	if err != nil {
		return nil, err
	}

	return &Session{
		http:      cli,
		sm:        newStateMachine(),
		probe:     cfg.probe,
		retry:     cfg.retry,
		now:       cfg.now,
		issuerMEI: cfg.issuerMEI,
	}, nil
}

func newStateMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachine(Unauthenticated)

	sm.Configure(Unauthenticated).
		Permit(triggerLogin, Authenticated)

	sm.Configure(Authenticated).
		Permit(triggerOpenContext, ContextOpen)

	sm.Configure(ContextOpen).
		PermitReentry(triggerOpenContext).
		Permit(triggerResolveParty, PartyResolved).
		Permit(triggerCloseContext, Authenticated)

	sm.Configure(PartyResolved).
		Permit(triggerOpenContext, ContextOpen).
		PermitReentry(triggerResolveParty).
		Permit(triggerSubmit, Submitted).
		Permit(triggerDropParty, ContextOpen).
		Permit(triggerCloseContext, Authenticated)

	sm.Configure(Submitted).
		Permit(triggerOpenContext, ContextOpen).
		Permit(triggerResolveParty, PartyResolved).
		Permit(triggerDropParty, ContextOpen).
		Permit(triggerCloseContext, Authenticated)

	return sm
}

func (s *Session) State() State {
	return s.sm.MustState().(State)
}

// LastDocumentID is the identifier of the last document issued by this session.
func (s *Session) LastDocumentID() string {
	return s.lastDocumentID
}

func (s *Session) Party() (Party, bool) {
	if s.party == nil {
		return Party{}, false
	}
	return *s.party, true
}

// ContextDate returns the competence date of the open submission context.
func (s *Session) ContextDate() (time.Time, bool) {
	return s.contextDate, !s.contextDate.IsZero()
}

// Reset forgets the submission context and the resolved party, keeping the login.
func (s *Session) Reset() {
	s.closeContext()
}

// Login authenticates with the portal credentials (CPF/CNPJ and password).
func (s *Session) Login(ctx context.Context, identity, secret string) error {
	const op = "login"

	if err := s.permit(ctx, op, triggerLogin); err != nil {
		return err
	}
	if strings.TrimSpace(identity) == "" || secret == "" {
		return newError(KindValidation, op, "identity and secret are required")
	}

	err := s.retry.run(ctx, op, func() error {
		return s.login(ctx, identity, secret)
	})
	if err != nil {
		return err
	}

	logger.WithField("identity", identity).Info("logged in to NFS-e portal")
	return s.fire(triggerLogin)
}

func (s *Session) login(ctx context.Context, identity, secret string) error {
	const op = "login"

	page, err := s.http.Get(ctx, loginPath, nil)
	if err != nil {
		return transportError(op, err)
	}

	token, ok := scrape.ExtractFrom(page.Body, antiForgeryToken)
	if !ok {
		return responseError(KindProtocol, op, "anti-forgery token not found", page)
	}

	form := url.Values{}
	form.Set("__RequestVerificationToken", token)
	form.Set("Inscricao", identity)
	form.Set("Senha", secret)

	resp, err := s.http.PostForm(ctx, loginPath, form)
	if err != nil {
		return transportError(op, err)
	}

	if !s.probe(resp.Body) {
		e := newError(KindAuthentication, op, "portal did not render an authenticated page")
		e.Status = resp.StatusCode
		return e
	}
	return nil
}

// OpenContext asks the portal to prepare a DPS for the given competence date.
func (s *Session) OpenContext(ctx context.Context, date time.Time) error {
	const op = "openContext"

	if err := s.permit(ctx, op, triggerOpenContext); err != nil {
		return err
	}
	if date.IsZero() {
		return newError(KindValidation, op, "competence date is required")
	}

	day := dateOnly(date)
	query := url.Values{"data": {day.Format(isoDate)}}

	err := s.retry.run(ctx, op, func() error {
		resp, err := s.http.Get(ctx, contextPath, query)
		if err != nil {
			return transportError(op, err)
		}
		if !resp.IsSuccess() {
			return responseError(KindProtocol, op, "portal refused to open the DPS context", resp)
		}
		return nil
	})
	if err != nil {
		s.closeContext()
		return err
	}

	if !s.contextDate.Equal(day) {
		s.lookup = nil
	}
	s.contextDate = day
	s.party = nil

	logger.WithField("date", day.Format(isoDate)).Debug("DPS context opened")
	return s.fire(triggerOpenContext)
}

// ResolveParty looks up the customer by CPF/CNPJ. Punctuation is ignored; anything
// that is not 11 or 14 digits fails before touching the network.
func (s *Session) ResolveParty(ctx context.Context, taxID string) (Party, error) {
	const op = "resolveParty"

	if err := s.permit(ctx, op, triggerResolveParty); err != nil {
		return Party{}, err
	}
	id, err := NormalizeTaxID(taxID)
	if err != nil {
		s.dropParty()
		return Party{}, err
	}

	date := s.now().Format(isoDate)
	if s.lookup != nil && s.lookup.taxID == id && s.lookup.date == date {
		p := s.lookup.party
		s.party = &p
		return p, s.fire(triggerResolveParty)
	}

	var party Party
	err = s.retry.run(ctx, op, func() error {
		p, err := s.lookupParty(ctx, id, date)
		party = p
		return err
	})
	if err != nil {
		s.dropParty()
		return Party{}, err
	}

	s.party = &party
	s.lookup = &partyLookup{taxID: id, date: date, party: party}

	logger.WithFields(logrus.Fields{"kind": id.Kind(), "name": party.Name}).Info("customer resolved")
	return party, s.fire(triggerResolveParty)
}

func (s *Session) lookupParty(ctx context.Context, id TaxID, date string) (Party, error) {
	const op = "resolveParty"

	resp, err := s.http.Get(ctx, lookupPath+string(id), url.Values{"data": {date}})
	if err != nil {
		return Party{}, transportError(op, err)
	}
	if !resp.IsSuccess() {
		return Party{}, responseError(KindLookup, op, "customer lookup failed", resp)
	}

	p, err := decodeParty(id, resp.Body)
	if err != nil {
		e := responseError(KindProtocol, op, "unexpected lookup response", resp)
		e.Err = err
		return Party{}, e
	}
	return p, nil
}

// SubmitInvoice posts the DPS form. It is not idempotent: the portal has no
// deduplication key, so every successful call issues a new document. It is never
// retried automatically.
func (s *Session) SubmitInvoice(ctx context.Context, inv Invoice) (*IssuedDocument, error) {
	const op = "submitInvoice"

	if err := s.permit(ctx, op, triggerSubmit); err != nil {
		return nil, err
	}
	if s.party == nil {
		return nil, newError(KindPrecondition, op, "no customer resolved, call ResolveParty first")
	}
	if err := inv.validate(); err != nil {
		return nil, err
	}
	if !dateOnly(inv.Competence).Equal(s.contextDate) {
		return nil, newError(KindPrecondition, op, fmt.Sprintf(
			"competence date %s differs from the open context %s",
			inv.Competence.Format(isoDate), s.contextDate.Format(isoDate)))
	}

	form := buildPayload(*s.party, inv, s.issuerMEI)

	logger.WithFields(logrus.Fields{
		"customer":   s.party.Name,
		"amount":     form.Get("ValorServico"),
		"competence": form.Get("DataCompetencia"),
	}).Info("submitting invoice")

	resp, err := s.http.PostForm(ctx, contextPath, form)
	if err != nil {
		return nil, transportError(op, err)
	}

	doc, err := parseSubmission(resp)
	if err != nil {
		return nil, err
	}

	s.lastDocumentID = doc.ID
	s.party = nil
	logger.WithField("document", doc.ID).Info("invoice issued")
	return doc, s.fire(triggerSubmit)
}

func parseSubmission(resp *api.Response) (*IssuedDocument, error) {
	const op = "submitInvoice"

	page, err := scrape.Parse(resp.Body)
	if err != nil {
		e := responseError(KindProtocol, op, "unreadable response", resp)
		e.Err = err
		return nil, e
	}

	if page.Has(validationSummary) {
		msg, _ := scrape.Extract(page, validationSummary)
		if msg == "" {
			msg = "portal rejected the invoice"
		}
		return nil, responseError(KindValidation, op, msg, resp)
	}

	if !resp.IsSuccess() {
		return nil, responseError(KindProtocol, op, "unexpected status", resp)
	}

	href, ok := scrape.Extract(page, downloadLink)
	if !ok {
		return nil, responseError(KindProtocol, op, "ambiguous success: no download link in the response", resp)
	}

	id := documentIDFromHref(href)
	if id == "" {
		return nil, responseError(KindProtocol, op, "download link without document id: "+href, resp)
	}
	return &IssuedDocument{ID: id, Href: href}, nil
}

// documentIDFromHref returns the trailing path segment of a download link.
func documentIDFromHref(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return ""
	}
	id := path.Base(p)
	if id == "." || id == "/" || strings.EqualFold(id, "DANFSe") {
		return ""
	}
	return id
}

// FetchDocument downloads the DANFSe of an issued document.
func (s *Session) FetchDocument(ctx context.Context, documentID string) (*Document, error) {
	const op = "fetchDocument"

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, op)
	}
	if s.State() == Unauthenticated {
		return nil, newError(KindPrecondition, op, "not logged in")
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, newError(KindValidation, op, "document id is required")
	}

	var doc *Document
	err := s.retry.run(ctx, op, func() error {
		resp, err := s.http.Get(ctx, downloadPath+url.PathEscape(documentID), nil)
		if err != nil {
			return transportError(op, err)
		}
		if resp.StatusCode != 200 {
			e := newError(KindDownload, op, "DANFSe download failed")
			e.Status = resp.StatusCode
			return e
		}
		doc = &Document{ID: documentID, ContentType: resp.ContentType(), Content: resp.Body}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{"document": documentID, "size": len(doc.Content)}).Debug("DANFSe downloaded")
	return doc, nil
}

// permit rejects the step without any I/O when the context is done or the state
// machine does not allow it.
func (s *Session) permit(ctx context.Context, op string, t trigger) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, op)
	}
	ok, err := s.sm.CanFire(t)
	if err != nil {
		return errors.Wrap(err, op)
	}
	if !ok {
		return newError(KindPrecondition, op, fmt.Sprintf("not allowed in state %s", s.State()))
	}
	return nil
}

func (s *Session) fire(t trigger) error {
	if err := s.sm.Fire(t); err != nil {
		return errors.Wrapf(err, "state transition %s", t)
	}
	return nil
}

func (s *Session) dropParty() {
	s.party = nil
	if ok, _ := s.sm.CanFire(triggerDropParty); ok {
		_ = s.sm.Fire(triggerDropParty)
	}
}

func (s *Session) closeContext() {
	s.party = nil
	s.contextDate = time.Time{}
	if ok, _ := s.sm.CanFire(triggerCloseContext); ok {
		_ = s.sm.Fire(triggerCloseContext)
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
