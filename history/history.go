// Package history keeps every issued receipt in a single JSON file, newest first.
// Entries are never removed; cancelling only flips their status.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/go-faster/errors"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "history")

type Status string

const (
	Active    Status = "ATIVO"
	Cancelled Status = "CANCELADO"
)

const (
	isoLayout       = "2006-01-02T15:04:05.999999"
	displayLayout   = "02/01/2006 15:04"
	idLayout        = "20060102_150405"
	DefaultFileName = "historico_cupons.json"
)

type Item struct {
	Description string `json:"descricao"`
	Quantity    int    `json:"quantidade"`
	UnitPrice   string `json:"valor_unitario"`
}

// InvoiceRef points from a receipt to the NFS-e filed for it.
type InvoiceRef struct {
	DocumentID string `json:"documento"`
	FileID     string `json:"arquivo"`
	Link       string `json:"link,omitempty"`
	FiledAt    string `json:"data_emissao"`
}

type Entry struct {
	ID                string      `json:"id"`
	IssuedAt          string      `json:"data_emissao"`
	IssuedAtFormatted string      `json:"data_emissao_formatada"`
	Samaritan         bool        `json:"samaritano"`
	ServiceOrder      *string     `json:"numero_os"`
	Items             []Item      `json:"itens"`
	Total             string      `json:"total"`
	Text              string      `json:"texto_cupom"`
	Status            Status      `json:"status"`
	Invoice           *InvoiceRef `json:"nfse,omitempty"`
}

// Time parses IssuedAt. Older files carry no zone; those are read as local time.
func (e Entry) Time() (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", e.IssuedAt, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, e.IssuedAt)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "entry %s: bad issue date %q", e.ID, e.IssuedAt)
	}
	return t, nil
}

// Store is safe for concurrent use within one process.
type Store struct {
	path string
	mu   sync.Mutex
	// set by read when the file exists but could not be loaded
	unreadable bool
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Add records a freshly printed receipt and returns the stored entry.
func (s *Store) Add(items []receipt.Item, text string, samaritan bool, serviceOrder string, issuedAt time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _ := s.read()

	e := Entry{
		ID:                uniqueID(entries, issuedAt),
		IssuedAt:          issuedAt.Format(isoLayout),
		IssuedAtFormatted: issuedAt.Format(displayLayout),
		Samaritan:         samaritan,
		Items:             make([]Item, 0, len(items)),
		Total:             receipt.Total(items).StringFixed(2),
		Text:              text,
		Status:            Active,
	}
	if so := strings.TrimSpace(serviceOrder); so != "" {
		e.ServiceOrder = &so
	}
	for _, it := range items {
		e.Items = append(e.Items, Item{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.String(),
		})
	}

	entries = append([]Entry{e}, entries...)
	if err := s.write(entries); err != nil {
		return Entry{}, err
	}

	logger.WithFields(logrus.Fields{"id": e.ID, "total": e.Total}).Info("receipt recorded")
	return e, nil
}

func uniqueID(entries []Entry, t time.Time) string {
	taken := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		taken[e.ID] = struct{}{}
	}
	for {
		id := fmt.Sprintf("%s_%06d", t.Format(idLayout), t.Nanosecond()/int(time.Microsecond))
		if _, ok := taken[id]; !ok {
			return id
		}
		t = t.Add(time.Microsecond)
	}
}

// AttachInvoice stores ref on the entry. It reports false when id is unknown.
func (s *Store) AttachInvoice(id string, ref InvoiceRef) (bool, error) {
	return s.update(id, func(e *Entry) { e.Invoice = &ref })
}

// Cancel marks the entry as cancelled. It reports false when id is unknown.
func (s *Store) Cancel(id string) (bool, error) {
	ok, err := s.update(id, func(e *Entry) { e.Status = Cancelled })
	if ok && err == nil {
		logger.WithField("id", id).Info("receipt cancelled")
	}
	return ok, err
}

func (s *Store) update(id string, fn func(*Entry)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _ := s.read()
	for i := range entries {
		if entries[i].ID == id {
			fn(&entries[i])
			return true, s.write(entries)
		}
	}
	return false, nil
}

// List returns at most limit entries, newest first; limit <= 0 returns all.
func (s *Store) List(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, migrated := s.read()
	if migrated {
		if err := s.write(entries); err != nil {
			return nil, err
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, _ := s.read()
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// read never fails: a missing or unreadable file is an empty history. The second
// result reports whether legacy entries without status were migrated.
func (s *Store) read() ([]Entry, bool) {
	s.unreadable = false

	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.unreadable = true
			logger.WithError(err).Warn("cannot read history, starting empty")
		}
		return []Entry{}, false
	}

	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		s.unreadable = true
		logger.WithError(err).WithField("path", s.path).Warn("corrupt history, starting empty")
		return []Entry{}, false
	}

	migrated := false
	for i := range entries {
		if entries[i].Status == "" {
			entries[i].Status = Active
			migrated = true
		}
	}
	return entries, migrated
}

func (s *Store) write(entries []Entry) error {
	if s.unreadable {
		if err := s.setAside(); err != nil {
			return err
		}
	}

	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode history")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create history dir")
	}

	tmp, err := os.CreateTemp(dir, ".historico-*")
	if err != nil {
		return errors.Wrap(err, "create temp history")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write history")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "write history")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "replace history")
	}
	return nil
}

// setAside renames an unreadable history file so that the next write does not
// replace it. The write is refused when the rename fails.
func (s *Store) setAside() error {
	aside := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format(idLayout))
	if err := os.Rename(s.path, aside); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "set aside unreadable history")
	}
	s.unreadable = false
	logger.WithField("path", aside).Warn("unreadable history set aside")
	return nil
}
