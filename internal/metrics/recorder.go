package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for forecast runs.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder owns the process metrics on a private registry so tests and
// multiple servers in one process do not collide on global registration.
type Recorder struct {
	registry *prometheus.Registry

	forecastDuration *prometheus.HistogramVec
	forecastTotal    *prometheus.CounterVec
	trainLoss        *prometheus.GaugeVec
	testLoss         *prometheus.GaugeVec
	alertsTotal      *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New registers every collector under namespace.
func New(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		forecastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      "Wall time of one prepare, train and rollout pipeline.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"platform", "outcome"}),
		forecastTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_total",
			Help:      "Forecast requests by platform and outcome.",
		}, []string{"platform", "outcome"}),
		trainLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_train_loss",
			Help:      "Final-epoch training MSE of the latest forecast.",
		}, []string{"product_id", "platform"}),
		testLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forecast_test_loss",
			Help:      "Final-epoch held-out MSE of the latest forecast.",
		}, []string{"product_id", "platform"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Forecast alerts emitted by direction.",
		}, []string{"direction"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 60},
		}, []string{"route", "method", "status"}),
	}

	r.registry.MustRegister(
		r.forecastDuration,
		r.forecastTotal,
		r.trainLoss,
		r.testLoss,
		r.alertsTotal,
		r.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveForecast records one pipeline execution. Losses are only set on success.
func (r *Recorder) ObserveForecast(productID, platform string, elapsed time.Duration, trainLoss, testLoss float64, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	r.forecastDuration.WithLabelValues(platform, outcome).Observe(elapsed.Seconds())
	r.forecastTotal.WithLabelValues(platform, outcome).Inc()
	if err == nil {
		r.trainLoss.WithLabelValues(productID, platform).Set(trainLoss)
		r.testLoss.WithLabelValues(productID, platform).Set(testLoss)
	}
}

// AlertSent counts an emitted alert.
func (r *Recorder) AlertSent(direction string) {
	r.alertsTotal.WithLabelValues(direction).Inc()
}

// ObserveRequest records one HTTP request against its route template.
func (r *Recorder) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	r.requestDuration.WithLabelValues(route, method, http.StatusText(status)).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
