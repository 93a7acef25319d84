// Package printer delivers receipt text. A copy is always saved as a .txt file; the
// escpos backend also sends it to a thermal printer exposed as a device file.
package printer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "printer")

type Backend string

const (
	BackendFile   Backend = "file"
	BackendESCPOS Backend = "escpos"
)

// ErrDevice means the receipt was saved but the printer did not take it.
var ErrDevice = errors.New("printer device error")

type Config struct {
	Dir          string // standard receipts
	SamaritanDir string // receipts of the Samaritan service
	Backend      Backend
	Device       string // e.g. /dev/usb/lp0, escpos only
	FeedLines    int
}

type Printer struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) (*Printer, error) {
	switch cfg.Backend {
	case "":
		cfg.Backend = BackendFile
	case BackendFile:
	case BackendESCPOS:
		if strings.TrimSpace(cfg.Device) == "" {
			return nil, errors.New("escpos backend needs a device path")
		}
	default:
		return nil, errors.Errorf("unknown printer backend %q (allowed: file, escpos)", cfg.Backend)
	}
	if cfg.Dir == "" || cfg.SamaritanDir == "" {
		return nil, errors.New("receipt directories are required")
	}
	if cfg.FeedLines <= 0 {
		cfg.FeedLines = 4
	}

	for _, d := range []string{cfg.Dir, cfg.SamaritanDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", d)
		}
	}
	return &Printer{cfg: cfg, now: time.Now}, nil
}

func (p *Printer) Backend() Backend {
	return p.cfg.Backend
}

// Print saves text and, for the escpos backend, prints it. The returned path is set
// whenever the file was written, even if the device then failed with ErrDevice.
func (p *Printer) Print(text string, samaritan bool) (string, error) {
	path, err := p.save(text, samaritan)
	if err != nil {
		return "", err
	}

	if p.cfg.Backend != BackendESCPOS {
		return path, nil
	}
	if err := p.sendToDevice(text); err != nil {
		logger.WithError(err).WithField("device", p.cfg.Device).Warn("receipt saved but not printed")
		return path, &DeviceError{Device: p.cfg.Device, Err: err}
	}
	return path, nil
}

func (p *Printer) save(text string, samaritan bool) (string, error) {
	dir := p.cfg.Dir
	if samaritan {
		dir = p.cfg.SamaritanDir
	}
	base := "cupom_" + p.now().Format("20060102_150405")

	for n := 0; ; n++ {
		name := base + ".txt"
		if n > 0 {
			name = fmt.Sprintf("%s_%d.txt", base, n)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", errors.Wrap(err, "save receipt")
		}
		if _, err := f.WriteString(text); err != nil {
			_ = f.Close()
			return "", errors.Wrap(err, "save receipt")
		}
		if err := f.Close(); err != nil {
			return "", errors.Wrap(err, "save receipt")
		}

		logger.WithField("path", path).Debug("receipt saved")
		return path, nil
	}
}

func (p *Printer) sendToDevice(text string) error {
	stream, err := Encode(text, p.cfg.FeedLines)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(p.cfg.Device, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(stream); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("printing on %s failed: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}
