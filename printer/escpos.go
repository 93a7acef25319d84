package printer

import (
	"bytes"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

const (
	esc = 0x1B
	gs  = 0x1D
)

var (
	cmdInit       = []byte{esc, '@'}
	cmdCodePage   = []byte{esc, 't', 2} // PC850 Multilingual
	cmdPartialCut = []byte{gs, 'V', 1}
)

// Encode turns receipt text into an ESC/POS job: reset, code page 850, the lines,
// feedLines blank lines and a partial cut. Characters missing from the code page
// are replaced.
func Encode(text string, feedLines int) ([]byte, error) {
	enc := encoding.ReplaceUnsupported(charmap.CodePage850.NewEncoder())

	var buf bytes.Buffer
	buf.Write(cmdInit)
	buf.Write(cmdCodePage)

	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		b, err := enc.Bytes([]byte(line))
		if err != nil {
			return nil, errors.Wrap(err, "encode receipt line")
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	if feedLines > 0 {
		buf.Write([]byte{esc, 'd', byte(min(feedLines, 255))})
	}
	buf.Write(cmdPartialCut)
	return buf.Bytes(), nil
}
