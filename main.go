package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alapierre/go-nfse-client/config"
	"github.com/alapierre/go-nfse-client/history"
	"github.com/alapierre/go-nfse-client/invoice"
	"github.com/alapierre/go-nfse-client/printer"
	"github.com/alapierre/go-nfse-client/receipt"
	"github.com/alapierre/go-nfse-client/server"
	"github.com/alapierre/go-nfse-client/shop"
	"github.com/sirupsen/logrus"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}

	logrus.SetLevel(cfg.Log.Level)
	if cfg.Log.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	prn, err := printer.New(cfg.Printer)
	if err != nil {
		logrus.Fatalf("printer: %v", err)
	}

	store := history.New(cfg.Data.HistoryFile)

	var (
		invoicer shop.Invoicer
		docs     server.Documents
	)
	if gw := newGateway(cfg); gw != nil {
		invoicer, docs = gw, gw
	}

	svc := shop.NewService(receipt.NewFormatter(cfg.Store.Width, cfg.Store.Header), prn, store, invoicer)
	srv := server.New(svc, store, docs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.WithFields(logrus.Fields{
		"addr":    cfg.HTTP.Addr,
		"printer": prn.Backend(),
		"nfse":    invoicer != nil,
	}).Info("starting")

	if err := srv.Run(ctx, cfg.HTTP.Addr); err != nil {
		logrus.Fatalf("server: %v", err)
	}
}

// newGateway returns nil when invoicing is disabled or misconfigured; the shop
// keeps printing receipts either way.
func newGateway(cfg *config.Config) *invoice.Gateway {
	if !cfg.NFSe.Enabled {
		logrus.Info("NFS-e disabled")
		return nil
	}

	n := cfg.NFSe
	gw, err := invoice.New(invoice.Config{
		Identity:     n.Identity,
		Secret:       n.Secret,
		ServiceID:    n.ServiceID,
		Environment:  n.Environment,
		BaseURL:      n.BaseURL,
		IssuerMEI:    n.IssuerMEI,
		Timeout:      n.Timeout,
		RateEvery:    n.RateEvery,
		RateBurst:    n.RateBurst,
		Retry:        n.Retry,
		DocumentsDir: cfg.Data.DocumentsDir,
	})
	if err != nil {
		logrus.WithError(err).Warn("NFS-e unavailable")
		return nil
	}
	logrus.WithField("env", n.Environment).Info("NFS-e enabled")
	return gw
}
