package forecast

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/logging"
)

// Stage is a step of the per-request forecasting lifecycle.
type Stage string

const (
	StageUninitialized Stage = "uninitialized"
	StagePrepared      Stage = "prepared"
	StageTrained       Stage = "trained"
	StageForecasting   Stage = "forecasting"
	StageDone          Stage = "done"
	StageFailed        Stage = "failed"
)

func (s Stage) String() string { return string(s) }

// Result is the outcome of one forecast request.
type Result struct {
	Points       []Point
	TrainLoss    float64
	TestLoss     float64
	TrainWindows int
	TestWindows  int
	History      []Record
	Stage        Stage
	Elapsed      time.Duration
}

// Pipeline runs prepare, train and rollout for one series at a time. It holds
// only immutable settings, so one Pipeline may serve concurrent requests;
// every Run owns its model, optimizer and random source.
type Pipeline struct {
	cfg    Config
	exec   ExecutionConfig
	logger zerolog.Logger
}

// NewPipeline validates cfg after filling unset fields with defaults.
func NewPipeline(cfg Config, exec ExecutionConfig, logger zerolog.Logger) (*Pipeline, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forecast config: %w", err)
	}
	return &Pipeline{
		cfg:    cfg,
		exec:   exec,
		logger: logging.Component(logger, "forecast"),
	}, nil
}

// Config returns the effective hyperparameters.
func (p *Pipeline) Config() Config {
	return p.cfg
}

type run struct {
	stage  Stage
	logger zerolog.Logger
}

func (r *run) advance(to Stage) {
	r.logger.Debug().Str("from", r.stage.String()).Str("to", to.String()).Msg("stage transition")
	r.stage = to
}

func (r *run) fail(at Stage, err error) error {
	r.logger.Warn().Err(err).Str("stage", at.String()).Msg("forecast failed")
	r.stage = StageFailed
	return &StageError{Stage: at, Err: err}
}

// Run forecasts cfg.Horizon days past the last record.
func (p *Pipeline) Run(records []Record) (*Result, error) {
	return p.RunHorizon(records, p.cfg.Horizon)
}

// RunHorizon forecasts days past the last record.
func (p *Pipeline) RunHorizon(records []Record, days int) (*Result, error) {
	start := time.Now()
	r := &run{stage: StageUninitialized, logger: p.logger}
	if days <= 0 {
		return nil, r.fail(StagePrepared, fmt.Errorf("horizon must be greater than zero, got %d", days))
	}

	prepared, err := Prepare(records, p.cfg.WindowLength)
	if err != nil {
		return nil, r.fail(StagePrepared, err)
	}
	windows, err := BuildWindows(prepared.Scaled, p.cfg.WindowLength)
	if err != nil {
		return nil, r.fail(StagePrepared, err)
	}
	train, test := Split(windows)
	r.advance(StagePrepared)

	rng := rand.New(rand.NewSource(p.cfg.Seed))
	model := NewModel(NumFeatures, p.cfg.HiddenSize, p.cfg.NumLayers, rng)
	losses, err := Train(model, train, test, p.cfg, p.exec, rng, r.logger)
	if err != nil {
		return nil, r.fail(StageTrained, err)
	}
	r.advance(StageTrained)

	r.advance(StageForecasting)
	points, err := Rollout(model, prepared, p.cfg.WindowLength, days)
	if err != nil {
		return nil, r.fail(StageForecasting, err)
	}
	r.advance(StageDone)

	res := &Result{
		Points:       points,
		TrainLoss:    losses.Train,
		TestLoss:     losses.Test,
		TrainWindows: len(train),
		TestWindows:  len(test),
		History:      prepared.Records,
		Stage:        r.stage,
		Elapsed:      time.Since(start),
	}
	p.logger.Info().
		Int("rows", len(prepared.Records)).
		Int("train_windows", res.TrainWindows).
		Int("test_windows", res.TestWindows).
		Float64("train_loss", res.TrainLoss).
		Float64("test_loss", res.TestLoss).
		Int("horizon", days).
		Dur("elapsed", res.Elapsed).
		Msg("forecast complete")
	return res, nil
}

// Run is a one-shot helper that builds a Pipeline and forecasts cfg.Horizon days.
func Run(records []Record, cfg Config, exec ExecutionConfig, logger zerolog.Logger) (*Result, error) {
	p, err := NewPipeline(cfg, exec, logger)
	if err != nil {
		return nil, err
	}
	return p.Run(records)
}
