package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alapierre/go-nfse-client/history"
	"github.com/alapierre/go-nfse-client/invoice"
	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/alapierre/go-nfse-client/shop"
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
)

const dateLayout = "2006-01-02"

// flag binds HTML checkboxes ("on") as well as JSON booleans.
type flag bool

func (f *flag) UnmarshalParam(param string) error {
	switch strings.ToLower(strings.TrimSpace(param)) {
	case "", "0", "false", "off", "no":
		*f = false
	default:
		*f = true
	}
	return nil
}

type issueForm struct {
	Descricao  []string `form:"descricao" json:"descricao"`
	Quantidade []string `form:"quantidade" json:"quantidade"`
	Valor      []string `form:"valor" json:"valor"`
	Samaritano flag     `form:"samaritano" json:"samaritano"`
	NumeroOS   string   `form:"numero_os" json:"numero_os"`
	EmitirNFSe flag     `form:"emitir_nfse" json:"emitir_nfse"`
	CPFCNPJ    string   `form:"cpf_cnpj" json:"cpf_cnpj"`
}

func (f issueForm) request() shop.Request {
	return shop.Request{
		Descriptions: f.Descricao,
		Quantities:   f.Quantidade,
		Values:       f.Valor,
		Samaritan:    bool(f.Samaritano),
		ServiceOrder: f.NumeroOS,
		Invoice:      bool(f.EmitirNFSe),
		TaxID:        f.CPFCNPJ,
	}
}

func (s *Server) bindIssue(c *gin.Context) (shop.Request, bool) {
	var f issueForm
	if err := c.ShouldBind(&f); err != nil {
		badRequest(c, "Formulário inválido: "+err.Error())
		return shop.Request{}, false
	}
	return f.request(), true
}

func (s *Server) preview(c *gin.Context) {
	req, ok := s.bindIssue(c)
	if !ok {
		return
	}
	text, err := s.shop.Preview(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"texto": text})
}

func (s *Server) issue(c *gin.Context) {
	req, ok := s.bindIssue(c)
	if !ok {
		return
	}
	res, err := s.shop.Issue(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	kind := "Padrão"
	if req.Samaritan {
		kind = "Samaritano"
	}
	c.JSON(http.StatusOK, gin.H{
		"mensagem":  "Cupom emitido com sucesso (" + kind + ")!",
		"resultado": res,
	})
}

func (s *Server) listHistory(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit inválido")
			return
		}
		limit = n
	}

	entries, err := s.history.List(limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) cancel(c *gin.Context) {
	ok, err := s.history.Cancel(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Cupom não encontrado"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cupom cancelado com sucesso"})
}

func (s *Server) periodReport(c *gin.Context) {
	var from, to time.Time

	if v := c.Query("data_inicio"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			badRequest(c, "Data inválida: "+v)
			return
		}
		from, _ = history.DayBounds(d)
	}
	if v := c.Query("data_fim"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			badRequest(c, "Data inválida: "+v)
			return
		}
		_, to = history.DayBounds(d)
	}

	status := history.Status(strings.ToUpper(c.Query("status")))
	switch status {
	case "", history.Active, history.Cancelled:
	default:
		badRequest(c, "Status inválido: "+string(status))
		return
	}

	r, err := s.history.Report(from, to, status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newReportView(r))
}

func (s *Server) closeDay(c *gin.Context) {
	day := s.now()
	if v := c.Query("data"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			badRequest(c, "Data inválida: "+v)
			return
		}
		day = d
	}

	r, err := s.history.CloseDay(day)
	if err != nil {
		s.fail(c, err)
		return
	}
	view := newReportView(r)
	view.DateFormatted = day.Format("02/01/2006")
	c.JSON(http.StatusOK, view)
}

func (s *Server) capability(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"disponivel": s.shop.InvoiceAvailable()})
}

func (s *Server) danfse(c *gin.Context) {
	s.serveDocument(c, Documents.Document, "application/pdf", ".pdf")
}

func (s *Server) qrCode(c *gin.Context) {
	s.serveDocument(c, Documents.QRCode, "image/png", ".png")
}

func (s *Server) serveDocument(c *gin.Context, read func(Documents, string) ([]byte, error), contentType, ext string) {
	if s.docs == nil || !s.docs.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "NFS-e não configurada"})
		return
	}

	id := c.Param("id")
	b, err := read(s.docs, id)
	switch {
	case errors.Is(err, invoice.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Documento não encontrado"})
		return
	case err != nil:
		s.fail(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+id+ext+`"`)
	c.Data(http.StatusOK, contentType, b)
}

func (s *Server) fail(c *gin.Context, err error) {
	var ie *receipt.InputError
	if errors.As(err, &ie) {
		badRequest(c, ie.Message)
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Erro interno: " + err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
