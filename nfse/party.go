package nfse

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Party is the customer (tomador) of the invoice as known by the portal.
type Party struct {
	TaxID      TaxID
	Identifier string // inscricao returned by the portal, TaxID when absent
	Name       string // nomerazaosocial, may be empty
}

type partyLookup struct {
	taxID TaxID
	date  string
	party Party
}

var errNotObject = errors.New("lookup response is not a JSON object")

// decodeParty reads the lookup answer. Only the two keys the client needs are
// interpreted; anything missing, null or of an unexpected type falls back.
func decodeParty(taxID TaxID, body []byte) (Party, error) {
	p := Party{TaxID: taxID}

	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return p, errNotObject
	}

	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch strings.ToLower(key) {
		case "inscricao":
			v, err := optString(d)
			p.Identifier = v
			return err
		case "nomerazaosocial":
			v, err := optString(d)
			p.Name = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return p, errors.Wrap(err, "decode lookup response")
	}

	if p.Identifier == "" {
		p.Identifier = string(taxID)
	}
	return p, nil
}

func optString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	case jx.Number:
		n, err := d.Num()
		return n.String(), err
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}
