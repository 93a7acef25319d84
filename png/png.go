// Package png renders QR codes as PNG images.
package png

import (
	"github.com/go-faster/errors"
	"github.com/skip2/go-qrcode"
)

// DefaultSize is the image side in pixels, large enough for a phone camera at arm's length.
const DefaultSize = 300

func Qr(content string) ([]byte, error) {
	return QrSize(content, DefaultSize)
}

// QrSize encodes content with medium error correction into a size x size PNG.
func QrSize(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qr content is empty")
	}
	if size <= 0 {
		size = DefaultSize
	}
	b, err := qrcode.Encode(content, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr")
	}
	return b, nil
}
