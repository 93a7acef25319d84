// Package shop is the issuance use case of the counter: validate what was typed,
// print the receipt, record it and, when asked, file the NFS-e for it.
package shop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alapierre/go-nfse-client/history"
	"github.com/alapierre/go-nfse-client/invoice"
	"github.com/alapierre/go-nfse-client/nfse"
	"github.com/alapierre/go-nfse-client/printer"
	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "shop")

type Printer interface {
	Print(text string, samaritan bool) (string, error)
}

// Invoicer is the optional NFS-e capability. A nil *invoice.Gateway satisfies it and
// reports itself unavailable.
type Invoicer interface {
	Available() bool
	ValidateTaxID(taxID string) (nfse.TaxID, error)
	File(ctx context.Context, req invoice.Request) (*invoice.Filing, error)
}

type Request struct {
	Descriptions []string
	Quantities   []string
	Values       []string
	Samaritan    bool
	ServiceOrder string
	Invoice      bool
	TaxID        string
}

type Result struct {
	Text     string          `json:"texto"`
	Entry    history.Entry   `json:"cupom"`
	Path     string          `json:"arquivo"`
	Filing   *invoice.Filing `json:"nfse,omitempty"`
	Warnings []string        `json:"avisos"`
}

type Service struct {
	formatter receipt.Formatter
	printer   Printer
	history   *history.Store
	invoicer  Invoicer
	now       func() time.Time
}

func NewService(f receipt.Formatter, p Printer, h *history.Store, inv Invoicer) *Service {
	return &Service{formatter: f, printer: p, history: h, invoicer: inv, now: time.Now}
}

// InvoiceAvailable reports whether receipts can be invoiced at all.
func (s *Service) InvoiceAvailable() bool {
	return s.invoicer != nil && s.invoicer.Available()
}

func (s *Service) parse(req Request) ([]receipt.Item, string, error) {
	items, err := receipt.ParseItems(req.Descriptions, req.Quantities, req.Values)
	if err != nil {
		return nil, "", err
	}
	so := strings.TrimSpace(req.ServiceOrder)
	if req.Samaritan && so == "" {
		return nil, "", &receipt.InputError{Message: "Número da OS é obrigatório para serviços do Samaritano."}
	}
	return items, so, nil
}

// Preview composes the receipt without printing or recording it.
func (s *Service) Preview(req Request) (string, error) {
	items, so, err := s.parse(req)
	if err != nil {
		return "", err
	}
	return s.formatter.Compose(items, req.Samaritan, so, s.now()), nil
}

// Issue prints and records a receipt. Input mistakes, including a malformed
// customer id when an invoice was asked for, fail before anything is printed. Once
// the receipt is printed, printer device and NFS-e failures only add warnings.
func (s *Service) Issue(ctx context.Context, req Request) (*Result, error) {
	items, so, err := s.parse(req)
	if err != nil {
		return nil, err
	}

	var taxID nfse.TaxID
	if req.Invoice {
		if !s.InvoiceAvailable() {
			return nil, &receipt.InputError{Message: "Emissão de NFS-e não está configurada."}
		}
		if taxID, err = s.invoicer.ValidateTaxID(req.TaxID); err != nil {
			return nil, &receipt.InputError{Message: "CPF/CNPJ inválido: informe 11 ou 14 dígitos."}
		}
	}

	now := s.now()
	res := &Result{Text: s.formatter.Compose(items, req.Samaritan, so, now), Warnings: []string{}}

	res.Path, err = s.printer.Print(res.Text, req.Samaritan)
	if err != nil {
		if !errors.Is(err, printer.ErrDevice) {
			return nil, errors.Wrap(err, "print receipt")
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("Erro ao imprimir na impressora ESC/POS: %v", err))
	}

	res.Entry, err = s.history.Add(items, res.Text, req.Samaritan, so, now)
	if err != nil {
		return nil, errors.Wrap(err, "record receipt")
	}

	if req.Invoice {
		s.fileInvoice(ctx, res, taxID, items, now)
	}
	return res, nil
}

func (s *Service) fileInvoice(ctx context.Context, res *Result, taxID nfse.TaxID, items []receipt.Item, now time.Time) {
	log := logger.WithField("receipt", res.Entry.ID)

	f, err := s.invoicer.File(ctx, invoice.Request{TaxID: string(taxID), Items: items, Competence: now})
	if err != nil {
		log.WithError(err).Warn("NFS-e not filed")
		res.Warnings = append(res.Warnings, invoiceWarning(err))
	}
	if f == nil {
		return
	}

	res.Filing = f
	ref := history.InvoiceRef{
		DocumentID: f.DocumentID,
		FileID:     f.FileID,
		Link:       f.Link,
		FiledAt:    f.FiledAt.Format(time.RFC3339),
	}
	if _, err := s.history.AttachInvoice(res.Entry.ID, ref); err != nil {
		log.WithError(err).Error("NFS-e filed but not recorded in history")
		res.Warnings = append(res.Warnings, fmt.Sprintf("NFS-e %s emitida mas não registrada no histórico.", f.DocumentID))
	}
}

func invoiceWarning(err error) string {
	w := invoiceProblem(err)
	if path, ok := invoice.SavedResponse(err); ok {
		w += " Resposta do portal salva em " + path + "."
	}
	return w
}

func invoiceProblem(err error) string {
	switch {
	case errors.Is(err, invoice.ErrNotStored):
		return "NFS-e emitida, mas o PDF da DANFSe não pôde ser baixado. Baixe-o no portal."
	case errors.Is(err, nfse.ErrValidation):
		return "NFS-e recusada pelo portal: " + message(err)
	case errors.Is(err, nfse.ErrAuthentication):
		return "NFS-e não emitida: login no portal recusado."
	case errors.Is(err, nfse.ErrProtocol):
		return "NFS-e não confirmada: resposta inesperada do portal. Verifique no portal antes de emitir de novo."
	case nfse.Retryable(err):
		return "NFS-e não emitida: portal indisponível, tente novamente."
	}
	return "NFS-e não emitida: " + err.Error()
}

func message(err error) string {
	var e *nfse.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
