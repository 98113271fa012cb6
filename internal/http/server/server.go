// Package server corre el http.Server del broker con shutdown graceful.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/toolgate/internal/observability/logger"
	"go.uber.org/zap"
)

type Server struct {
	srv *http.Server
}

func New(addr string, h http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Run bloquea hasta que ctx se cancele o el listener falle. Con ctx
// cancelado, drena conexiones hasta 15s antes de cortar.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.L().Info("shutting down http server")
	return s.srv.Shutdown(shutdownCtx)
}
