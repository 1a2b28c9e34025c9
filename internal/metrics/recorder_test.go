package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveForecast(t *testing.T) {
	r := New("priceforecast")

	r.ObserveForecast("iphone15", "Shopee", 2*time.Second, 0.01, 0.02, nil)
	r.ObserveForecast("iphone15", "Shopee", time.Second, 0, 0, errors.New("boom"))

	assert.InDelta(t, 1, testutil.ToFloat64(r.forecastTotal.WithLabelValues("Shopee", OutcomeSuccess)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.forecastTotal.WithLabelValues("Shopee", OutcomeFailure)), 1e-9)
	assert.InDelta(t, 0.01, testutil.ToFloat64(r.trainLoss.WithLabelValues("iphone15", "Shopee")), 1e-12)
	assert.InDelta(t, 0.02, testutil.ToFloat64(r.testLoss.WithLabelValues("iphone15", "Shopee")), 1e-12)
}

func TestAlertSent(t *testing.T) {
	r := New("priceforecast")
	r.AlertSent("up")
	r.AlertSent("up")
	r.AlertSent("down")

	assert.InDelta(t, 2, testutil.ToFloat64(r.alertsTotal.WithLabelValues("up")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.alertsTotal.WithLabelValues("down")), 1e-9)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New("priceforecast")
	r.ObserveForecast("airpodspro2", "Lazada", time.Second, 0.1, 0.2, nil)
	r.ObserveRequest("/api/predict", http.MethodPost, http.StatusOK, 10*time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "priceforecast_forecasts_total"))
	assert.True(t, strings.Contains(text, "priceforecast_http_request_duration_seconds"))
	assert.True(t, strings.Contains(text, `product_id="airpodspro2"`))
}
