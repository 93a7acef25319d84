// Package config loads the shop settings from an optional config.toml and from
// CUPOM_* environment variables, which take precedence.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/alapierre/go-nfse-client/nfse"
	"github.com/alapierre/go-nfse-client/printer"
	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP    HTTPConfig
	Log     LogConfig
	Store   StoreConfig
	Data    DataConfig
	Printer printer.Config
	NFSe    NFSeConfig
}

type HTTPConfig struct {
	Addr string
}

type LogConfig struct {
	Level  logrus.Level
	Format string // text, json
}

// StoreConfig is what gets printed on top of every receipt.
type StoreConfig struct {
	Header receipt.Header
	Width  int
}

type DataConfig struct {
	HistoryFile  string
	DocumentsDir string
}

type NFSeConfig struct {
	Enabled     bool
	Identity    string
	Secret      string
	ServiceID   string
	Environment nfse.Environment
	BaseURL     string
	IssuerMEI   bool
	Timeout     time.Duration
	RateEvery   time.Duration
	RateBurst   int
	Retry       nfse.RetryPolicy
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	h := receipt.DefaultHeader
	v.SetDefault("store.name", h.StoreName)
	v.SetDefault("store.cnpj", h.TaxID)
	v.SetDefault("store.address", h.Address)
	v.SetDefault("store.phones", h.Phones)
	v.SetDefault("store.footer", h.Footer)
	v.SetDefault("store.width", receipt.DefaultWidth)

	v.SetDefault("data.dir", ".")
	v.SetDefault("printer.backend", string(printer.BackendFile))
	v.SetDefault("printer.feed_lines", 4)

	r := nfse.DefaultRetryPolicy()
	v.SetDefault("nfse.enabled", false)
	v.SetDefault("nfse.env", "prod")
	v.SetDefault("nfse.mei", true)
	v.SetDefault("nfse.timeout", "30s")
	v.SetDefault("nfse.rate_every", "500ms")
	v.SetDefault("nfse.rate_burst", 2)
	v.SetDefault("nfse.retry.attempts", r.Attempts)
	v.SetDefault("nfse.retry.delay", r.Delay)
	v.SetDefault("nfse.retry.max_delay", r.MaxDelay)
	v.SetDefault("nfse.retry.multiplier", r.Multiplier)
	v.SetDefault("nfse.retry.jitter", r.Jitter)
}

// Load reads config.toml from the given directories (the working directory when
// none are given). A missing file is not an error.
func Load(dirs ...string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	v.SetEnvPrefix("CUPOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	level, err := logrus.ParseLevel(v.GetString("log.level"))
	if err != nil {
		return nil, errors.Wrap(err, "log.level")
	}

	var env nfse.Environment
	if err := env.UnmarshalText([]byte(v.GetString("nfse.env"))); err != nil {
		return nil, errors.Wrap(err, "nfse.env")
	}

	dataDir := v.GetString("data.dir")
	under := func(key, name string) string {
		if p := v.GetString(key); p != "" {
			return p
		}
		return filepath.Join(dataDir, name)
	}

	cfg := &Config{
		HTTP: HTTPConfig{Addr: v.GetString("http.addr")},
		Log:  LogConfig{Level: level, Format: v.GetString("log.format")},
		Store: StoreConfig{
			Header: receipt.Header{
				StoreName: v.GetString("store.name"),
				TaxID:     v.GetString("store.cnpj"),
				Address:   v.GetString("store.address"),
				Phones:    v.GetString("store.phones"),
				Footer:    v.GetString("store.footer"),
			},
			Width: v.GetInt("store.width"),
		},
		Data: DataConfig{
			HistoryFile:  under("data.history_file", "historico_cupons.json"),
			DocumentsDir: under("data.documents_dir", "_nfse"),
		},
		Printer: printer.Config{
			Dir:          under("printer.dir", "_cupons"),
			SamaritanDir: under("printer.samaritan_dir", "_cupons_samaritano"),
			Backend:      printer.Backend(strings.ToLower(v.GetString("printer.backend"))),
			Device:       v.GetString("printer.device"),
			FeedLines:    v.GetInt("printer.feed_lines"),
		},
		NFSe: NFSeConfig{
			Enabled:     v.GetBool("nfse.enabled"),
			Identity:    v.GetString("nfse.identity"),
			Secret:      v.GetString("nfse.secret"),
			ServiceID:   v.GetString("nfse.service_id"),
			Environment: env,
			BaseURL:     v.GetString("nfse.base_url"),
			IssuerMEI:   v.GetBool("nfse.mei"),
			Timeout:     v.GetDuration("nfse.timeout"),
			RateEvery:   v.GetDuration("nfse.rate_every"),
			RateBurst:   v.GetInt("nfse.rate_burst"),
			Retry: nfse.RetryPolicy{
				Attempts:   v.GetInt("nfse.retry.attempts"),
				Delay:      v.GetDuration("nfse.retry.delay"),
				MaxDelay:   v.GetDuration("nfse.retry.max_delay"),
				Multiplier: v.GetFloat64("nfse.retry.multiplier"),
				Jitter:     v.GetFloat64("nfse.retry.jitter"),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.NFSe.Enabled && c.NFSe.Timeout <= 0 {
		return errors.New("nfse.timeout must be positive")
	}
	if c.NFSe.Retry.Attempts < 1 {
		return errors.New("nfse.retry.attempts must be at least 1")
	}
	return nil
}
