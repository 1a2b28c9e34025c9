package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"price-forecast/internal/dataset"
	"price-forecast/internal/forecast"
	"price-forecast/internal/service"
)

type handler struct {
	svc            Analytics
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// MetricsRequest selects a series and how much history to return.
type MetricsRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	Platform    string `json:"platform" validate:"required"`
	HistoryDays int    `json:"history_days" validate:"gte=0,lte=3650"`
}

// PredictRequest selects a series and the forecast length.
type PredictRequest struct {
	ProductID  string `json:"product_id" validate:"required"`
	Platform   string `json:"platform" validate:"required"`
	FutureDays int    `json:"future_days" default:"7" validate:"gte=1"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Message string       `json:"message"`
	Detail  string       `json:"detail,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

func (h *handler) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) catalog(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Catalog())
}

func (h *handler) metrics(c echo.Context) error {
	var req MetricsRequest
	if errs := bindAndValidate(c, &req); errs != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "product_id and platform are required", Errors: errs})
	}
	report, err := h.svc.Metrics(req.ProductID, req.Platform, req.HistoryDays)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *handler) predict(c echo.Context) error {
	var req PredictRequest
	if errs := bindAndValidate(c, &req); errs != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "product_id and platform are required", Errors: errs})
	}

	ctx := c.Request().Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	pred, err := h.svc.Predict(ctx, req.ProductID, req.Platform, req.FutureDays)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, pred)
}

func (h *handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	body := ErrorResponse{Message: err.Error()}
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		body = ErrorResponse{Message: "unexpected error", Detail: err.Error()}
	}
	return c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dataset.ErrSeriesNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidHorizon),
		errors.Is(err, forecast.ErrInsufficientData),
		errors.Is(err, forecast.ErrMissingColumn),
		errors.Is(err, forecast.ErrInvalidSeries):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
