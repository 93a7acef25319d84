// Package server exposes the shop over HTTP with gin.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/alapierre/go-nfse-client/history"
	"github.com/alapierre/go-nfse-client/shop"
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "server")

// Documents serves files stored by the invoice gateway.
type Documents interface {
	Available() bool
	Document(fileID string) ([]byte, error)
	QRCode(fileID string) ([]byte, error)
}

type Server struct {
	shop    *shop.Service
	history *history.Store
	docs    Documents
	engine  *gin.Engine
	now     func() time.Time
}

func New(svc *shop.Service, h *history.Store, docs Documents) *Server {
	s := &Server{shop: svc, history: h, docs: docs, now: time.Now}

	e := gin.New()
	e.Use(gin.Recovery(), requestLogger())

	e.POST("/preview", s.preview)
	e.POST("/emitir", s.issue)

	api := e.Group("/api")
	api.GET("/historico", s.listHistory)
	api.POST("/cupom/:id/cancelar", s.cancel)
	api.GET("/relatorio/periodo", s.periodReport)
	api.GET("/relatorio/fechar-caixa", s.closeDay)
	api.GET("/nfse/capacidade", s.capability)
	api.GET("/nfse/:id/danfse", s.danfse)
	api.GET("/nfse/:id/qr", s.qrCode)

	s.engine = e
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	logger.Info("server stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}
