package nfse

import (
	"fmt"
	"strings"
)

type Environment int

const (
	// Restricted is the portal's "produção restrita": same forms, no fiscal effect.
	Restricted Environment = iota
	Prod
)

func (e Environment) BaseURL() string {
	switch e {
	case Prod:
		return "https://www.nfse.gov.br"
	case Restricted:
		return "https://www.producaorestrita.nfse.gov.br"
	}
	panic("Invalid environment")
}

func (e Environment) Name() string {
	switch e {
	case Prod:
		return "prod"
	case Restricted:
		return "restricted"
	}
	panic("Invalid environment")
}

func (e Environment) String() string {
	return e.Name()
}

func (e *Environment) UnmarshalText(text []byte) error {
	val := strings.ToLower(strings.TrimSpace(string(text)))

	switch val {
	case "prod", "producao":
		*e = Prod
	case "restricted", "producaorestrita", "homologacao":
		*e = Restricted
	default:
		return fmt.Errorf("invalid NFSE_ENV: %q (allowed: prod, restricted)", val)
	}
	return nil
}
