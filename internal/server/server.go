package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"price-forecast/internal/dataset"
	"price-forecast/internal/logging"
	"price-forecast/internal/metrics"
	"price-forecast/internal/service"
)

// Analytics is the service surface exposed over HTTP.
type Analytics interface {
	Catalog() *dataset.Catalog
	Metrics(productID, platform string, historyDays int) (*service.MetricsReport, error)
	Predict(ctx context.Context, productID, platform string, days int) (*service.Prediction, error)
}

// Options configure the listener.
type Options struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Server wraps the echo instance serving the forecast API.
type Server struct {
	echo   *echo.Echo
	opts   Options
	logger zerolog.Logger
}

// New builds the router. recorder may be nil, in which case /metrics is not mounted.
func New(svc Analytics, recorder *metrics.Recorder, opts Options, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	logger = logging.Component(logger, "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(recoverPanics(logger))
	e.Use(requestLogging(logger, recorder))

	h := &handler{svc: svc, requestTimeout: opts.RequestTimeout, logger: logger}
	api := e.Group("/api")
	api.GET("/catalog", h.catalog)
	api.POST("/metrics", h.metrics)
	api.POST("/predict", h.predict)
	e.GET("/healthz", h.healthz)
	if recorder != nil {
		e.GET("/metrics", echo.WrapHandler(recorder.Handler()))
	}

	return &Server{echo: e, opts: opts, logger: logger}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Address,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.opts.Address).Msg("http server listening")
		errCh <- s.echo.StartServer(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
