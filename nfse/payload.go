package nfse

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	isoDate          = "2006-01-02"
	competenceLayout = "02/01/2006 15:04:05"
)

// NilServiceID is the placeholder the portal rejects as favourite service.
var NilServiceID = uuid.Nil.String()

// Invoice is what the caller wants to file. Amount is exact; it is never converted
// through a float.
type Invoice struct {
	ServiceID   string // favourite service registered on the portal
	Amount      decimal.Decimal
	Description string
	Competence  time.Time
	Withholding bool // ISSQN withheld by the customer
}

func (inv Invoice) validate() error {
	const op = "submitInvoice"

	id := strings.TrimSpace(inv.ServiceID)
	if id == "" || id == NilServiceID {
		return newError(KindValidation, op,
			"IdServicoFavorito is required; register a favourite service on the portal and use its id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return &Error{Kind: KindValidation, Op: op, Message: "IdServicoFavorito is not a valid GUID", Err: err}
	}
	if !inv.Amount.IsPositive() {
		return newError(KindValidation, op, "amount must be greater than zero")
	}
	if inv.Competence.IsZero() {
		return newError(KindValidation, op, "competence date is required")
	}
	return nil
}

// Optional sub-blocks of the DPS form. They are always sent, empty, because the
// portal validates the presence of the keys.
var (
	constructionFields = []string{
		"CodigoObra", "CodigoMunicipioPrestacao", "CEP", "CodigoMunicipio",
		"NomeMunicipio", "Bairro", "Logradouro", "Numero", "Complemento",
	}
	eventFields = []string{
		"DataInicial", "DataFinal", "Identificacao", "CodigoMunicipioPrestacao",
		"CEP", "CodigoMunicipio", "NomeMunicipio", "Bairro", "Logradouro",
		"Numero", "Complemento",
	}
	extraInfoFields = []string{"CodigoMunicipio"}
)

func buildPayload(p Party, inv Invoice, issuerMEI bool) url.Values {
	v := url.Values{}
	v.Set("EmitenteEhMEINaDataAtual", formBool(issuerMEI))
	v.Set("DataCompetencia", inv.Competence.Format(competenceLayout))
	v.Set("InscricaoCliente", string(p.TaxID))
	v.Set("NomeCliente", p.Name)
	v.Set("IdServicoFavorito", strings.TrimSpace(inv.ServiceID))
	v.Set("Descricao", inv.Description)
	v.Set("ValorServico", FormatAmount(inv.Amount))

	withholding := "0"
	if inv.Withholding {
		withholding = "1"
	}
	v.Set("HaRetencaoISSQNNaFonte", withholding)
	v.Set("AliquotaRetencao", "")
	v.Set("ValorDeRetencao", "")

	setEmptyBlock(v, "Obra", constructionFields)
	setEmptyBlock(v, "AtvEvento", eventFields)
	setEmptyBlock(v, "InfoComplementar", extraInfoFields)
	return v
}

func setEmptyBlock(v url.Values, prefix string, fields []string) {
	v.Set(prefix+".EhObrigatorio", "False")
	for _, f := range fields {
		v.Set(prefix+"."+f, "")
	}
}

// formBool renders booleans the way ASP.NET model binding writes them.
func formBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
