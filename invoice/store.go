package invoice

import (
	"os"
	"path/filepath"

	"github.com/alapierre/go-nfse-client/nfse"
	"github.com/alapierre/go-nfse-client/nfse/qr"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const (
	pdfExt = ".pdf"
	qrExt  = ".png"

	pdfType = "application/pdf"
)

// store writes the DANFSe and the QR code of its consultation link under a fresh
// id. The portal's own document id never becomes a file name.
//
// Anything but a PDF is refused: an expired session answers the download with the
// login page, status 200.
func (g *Gateway) store(doc *nfse.Document) (string, error) {
	if doc.ContentType != pdfType {
		return "", errors.Errorf("DANFSe download returned %q instead of a PDF", doc.ContentType)
	}
	id := uuid.NewString()

	if err := os.WriteFile(g.path(id, pdfExt), doc.Content, 0o644); err != nil {
		return "", errors.Wrap(err, "write DANFSe")
	}

	img, _, err := qr.Code(g.base, doc.ID)
	if err != nil {
		logger.WithError(err).WithField("document", doc.ID).Warn("QR code not generated")
		return id, nil
	}
	if err := os.WriteFile(g.path(id, qrExt), img, 0o644); err != nil {
		logger.WithError(err).WithField("document", doc.ID).Warn("QR code not saved")
	}
	return id, nil
}

// Document returns the stored DANFSe of fileID.
func (g *Gateway) Document(fileID string) ([]byte, error) {
	return g.read(fileID, pdfExt)
}

// QRCode returns the PNG QR code stored with fileID.
func (g *Gateway) QRCode(fileID string) ([]byte, error) {
	return g.read(fileID, qrExt)
}

func (g *Gateway) read(fileID, ext string) ([]byte, error) {
	if !g.Available() {
		return nil, ErrUnavailable
	}
	id, err := uuid.Parse(fileID)
	if err != nil {
		return nil, errors.Wrapf(ErrNotFound, "invalid id %q", fileID)
	}

	b, err := os.ReadFile(g.path(id.String(), ext))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "%s%s", id, ext)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read document")
	}
	return b, nil
}

func (g *Gateway) path(id, ext string) string {
	return filepath.Join(g.cfg.DocumentsDir, id+ext)
}
