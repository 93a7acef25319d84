// Package qr builds the public consultation link of an issued NFS-e and its QR image.
package qr

import (
	"net/url"
	"strings"

	"github.com/alapierre/go-nfse-client/nfse"
	"github.com/alapierre/go-nfse-client/png"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "nfse.qr")

const consultationPath = "/ConsultaPublica/"

// VerificationLink returns the link a customer opens to check the document on the
// portal of env: {base}/ConsultaPublica/ with tpc=1 and chave={documentID}.
func VerificationLink(env nfse.Environment, documentID string) (string, error) {
	return Link(env.BaseURL(), documentID)
}

// Link is VerificationLink for an explicit portal base URL.
func Link(base, documentID string) (string, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return "", errors.New("document id is empty")
	}

	u, err := portalBase(base)
	if err != nil {
		return "", err
	}

	u.Path = consultationPath
	u.RawQuery = url.Values{"tpc": {"1"}, "chave": {documentID}}.Encode()

	return u.String(), nil
}

// Code renders the verification link as a PNG QR code and returns both.
func Code(base, documentID string) ([]byte, string, error) {
	link, err := Link(base, documentID)
	if err != nil {
		return nil, "", err
	}
	logger.WithField("link", link).Debug("rendering consultation QR")

	img, err := png.Qr(link)
	if err != nil {
		return nil, "", errors.Wrapf(err, "qr for %s", documentID)
	}
	return img, link, nil
}

func portalBase(base string) (*url.URL, error) {
	if strings.TrimSpace(base) == "" {
		return nil, errors.New("base URL is empty")
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base URL must include scheme and host, got: %q", base)
	}

	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
