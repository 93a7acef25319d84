package printer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func config(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		Dir:          filepath.Join(dir, "_cupons"),
		SamaritanDir: filepath.Join(dir, "_cupons_samaritano"),
	}
}

func fixedClock(p *Printer) {
	p.now = func() time.Time { return time.Date(2026, 10, 17, 9, 5, 1, 0, time.Local) }
}

func TestPrint_FileBackend(t *testing.T) {
	cfg := config(t)
	p, err := New(cfg)
	require.NoError(t, err)
	fixedClock(p)
	assert.Equal(t, BackendFile, p.Backend())

	path, err := p.Print("texto\n", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Dir, "cupom_20261017_090501.txt"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "texto\n", string(b))

	second, err := p.Print("outro\n", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Dir, "cupom_20261017_090501_1.txt"), second, "same second must not overwrite")

	sam, err := p.Print("samaritano\n", true)
	require.NoError(t, err)
	assert.Equal(t, cfg.SamaritanDir, filepath.Dir(sam))
}

func TestPrint_ESCPOS(t *testing.T) {
	cfg := config(t)
	cfg.Backend = BackendESCPOS
	cfg.Device = filepath.Join(t.TempDir(), "lp0")
	require.NoError(t, os.WriteFile(cfg.Device, nil, 0o644))

	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Print("Obrigado pela preferência!\n", false)
	require.NoError(t, err)

	b, err := os.ReadFile(cfg.Device)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "\x1b@\x1bt\x02"))
	assert.Contains(t, string(b), "Obrigado pela prefer\x88ncia!\n")
	assert.True(t, strings.HasSuffix(string(b), "\x1bd\x04\x1dV\x01"))
}

func TestPrint_DeviceFailureKeepsFile(t *testing.T) {
	cfg := config(t)
	cfg.Backend = BackendESCPOS
	cfg.Device = filepath.Join(t.TempDir(), "missing", "lp0")

	p, err := New(cfg)
	require.NoError(t, err)

	path, err := p.Print("texto\n", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDevice))
	assert.FileExists(t, path)
}

func TestNew_Invalid(t *testing.T) {
	cfg := config(t)
	cfg.Backend = "usb"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg.Backend = BackendESCPOS
	_, err = New(cfg)
	assert.Error(t, err, "device is required")

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestEncode_ReplacesUnsupported(t *testing.T) {
	b, err := Encode("€ 1\n", 0)
	require.NoError(t, err)
	assert.Equal(t, "\x1b@\x1bt\x02\x1a 1\n\x1dV\x01", string(b))
}
