package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"price-forecast/internal/alerting"
	"price-forecast/internal/config"
	"price-forecast/internal/logging"
	"price-forecast/internal/scheduler"
	"price-forecast/internal/storage"
)

// Target is one product/platform pair forecast by the scheduled job.
type Target struct {
	ProductID string
	Platform  string
}

// Predictor is the subset of Analytics the monitor drives.
type Predictor interface {
	Predict(ctx context.Context, productID, platform string, days int) (*Prediction, error)
	Targets() []Target
}

// AlertCounter receives emitted alert directions.
type AlertCounter interface {
	AlertSent(direction string)
}

// Monitor forecasts the watchlist on every scheduler bucket and alerts on large expected moves.
type Monitor struct {
	scheduler  *scheduler.Scheduler
	predictor  Predictor
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	counter    AlertCounter
	logger     zerolog.Logger

	targets     []Target
	horizon     int
	concurrency int
	threshold   decimal.Decimal
	channels    []string
	alertsOn    bool
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// MonitorDeps are the optional collaborators of a Monitor.
type MonitorDeps struct {
	AlertStore storage.AlertStore
	Notifier   alerting.Notifier
	Locker     storage.AdvisoryLocker
	Counter    AlertCounter
}

// NewMonitor constructs the scheduled forecasting service.
func NewMonitor(cfg *config.Config, sched *scheduler.Scheduler, predictor Predictor, deps MonitorDeps, logger zerolog.Logger) *Monitor {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	watch, _ := cfg.Watchlist()
	targets := make([]Target, 0, len(watch))
	for _, w := range watch {
		targets = append(targets, Target{ProductID: w.ProductID, Platform: w.Platform})
	}

	concurrency := cfg.Scheduler.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Monitor{
		scheduler:   sched,
		predictor:   predictor,
		alertStore:  deps.AlertStore,
		notifier:    deps.Notifier,
		counter:     deps.Counter,
		logger:      logging.Component(logger, "monitor"),
		targets:     targets,
		horizon:     cfg.Forecast.Horizon,
		concurrency: concurrency,
		threshold:   threshold,
		channels:    cfg.Alerting.Channels,
		alertsOn:    cfg.Alerting.Enabled,
		locker:      deps.Locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned forecasting loop.
func (m *Monitor) Run(ctx context.Context) error {
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return m.scheduler.Run(ctx, m.ProcessBucket)
}

// ProcessBucket forecasts every target once, unless another replica holds the lock.
func (m *Monitor) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		m.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return m.executeBucket(ctx, bucket)
}

func (m *Monitor) executeBucket(ctx context.Context, bucket time.Time) error {
	targets := m.targets
	if len(targets) == 0 {
		targets = m.predictor.Targets()
	}
	if len(targets) == 0 {
		m.logger.Warn().Time("bucket", bucket).Msg("no forecast targets")
		return nil
	}

	var failed, alerted atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			pred, err := m.predictor.Predict(gctx, t.ProductID, t.Platform, m.horizon)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failed.Add(1)
				m.logger.Error().Err(err).Str("product_id", t.ProductID).Str("platform", t.Platform).Msg("scheduled forecast failed")
				return nil
			}
			if m.maybeAlert(gctx, bucket, t, pred) {
				alerted.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.logger.Info().Time("bucket", bucket).
		Int("targets", len(targets)).
		Int32("failed", failed.Load()).
		Int32("alerts", alerted.Load()).
		Msg("bucket forecasted")

	if int(failed.Load()) == len(targets) {
		return fmt.Errorf("all %d scheduled forecasts failed", len(targets))
	}
	return nil
}

func (m *Monitor) maybeAlert(ctx context.Context, bucket time.Time, t Target, pred *Prediction) bool {
	if !m.alertsOn || m.notifier == nil || m.threshold.IsZero() {
		return false
	}
	change := decimal.NewFromFloat(pred.ExpectedChangePct).Round(4)
	if change.Abs().LessThan(m.threshold) {
		return false
	}

	direction := classifyDirection(change)
	note := alerting.Notification{
		RunID:         pred.RunID,
		GeneratedAt:   bucket,
		ProductID:     t.ProductID,
		ProductName:   pred.Product.Name,
		Platform:      t.Platform,
		LastPrice:     decimal.NewFromFloat(pred.LastPrice),
		ForecastPrice: decimal.NewFromFloat(pred.FinalPrice()),
		ChangePct:     change,
		ThresholdPct:  m.threshold,
		HorizonDays:   len(pred.Predictions),
		Direction:     direction,
		Channels:      m.channels,
		Note:          pred.Recommendation,
	}
	if m.alertStore != nil {
		record := storage.AlertRecord{
			ProductID:    t.ProductID,
			Platform:     t.Platform,
			ChangePct:    change,
			ThresholdPct: m.threshold,
			Direction:    direction,
			Channels:     m.channels,
		}
		if id, err := uuid.Parse(pred.RunID); err == nil {
			record.RunID = id
		}
		if _, err := m.alertStore.InsertAlert(ctx, record); err != nil {
			m.logger.Error().Err(err).Str("product_id", t.ProductID).Msg("failed to persist alert record")
		}
	}
	if err := m.notifier.Notify(ctx, note); err != nil {
		m.logger.Error().Err(err).Str("product_id", t.ProductID).Msg("failed to dispatch alert")
		return false
	}
	if m.counter != nil {
		m.counter.AlertSent(direction)
	}
	return true
}

func classifyDirection(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.lockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
