package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/alerting"
	"price-forecast/internal/config"
	"price-forecast/internal/dataset"
	"price-forecast/internal/enrich"
	"price-forecast/internal/forecast"
	"price-forecast/internal/logging"
	"price-forecast/internal/metrics"
	"price-forecast/internal/scheduler"
	"price-forecast/internal/server"
	"price-forecast/internal/service"
	"price-forecast/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives human-readable command output.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

// runtime bundles everything a command needs to answer analytics requests.
type runtime struct {
	analytics *service.Analytics
	store     *storage.Store
	recorder  *metrics.Recorder
	closers   []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newCache prefers Redis and falls back to process memory when it is unset or unreachable.
func (a *App) newCache(ctx context.Context) (enrich.Cache, func()) {
	cfg := a.Config.Cache
	if cfg.RedisAddr == "" {
		return enrich.NewMemoryCache(), func() {}
	}
	rc, err := enrich.NewRedisCache(ctx, enrich.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   a.Config.App.Name,
	})
	if err != nil {
		a.Logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; using in-memory cache")
		return enrich.NewMemoryCache(), func() {}
	}
	return rc, func() { _ = rc.Close() }
}

func (a *App) loadDataset(ctx context.Context, store *storage.Store) (*dataset.Dataset, error) {
	if a.Config.Dataset.Source == "postgres" {
		if store == nil {
			return nil, errors.New("dataset.source is postgres but database.dsn is not configured")
		}
		points, err := store.ListAllPricePoints(ctx)
		if err != nil {
			return nil, fmt.Errorf("load price points: %w", err)
		}
		return dataset.New(rowsFromPoints(points)), nil
	}
	return dataset.LoadFile(a.Config.Dataset.Path)
}

func rowsFromPoints(points []storage.PricePoint) []dataset.Row {
	rows := make([]dataset.Row, len(points))
	for i, p := range points {
		rows[i] = dataset.Row{Record: p.Record()}
		if p.Rating != nil {
			v := p.Rating.InexactFloat64()
			rows[i].Rating = &v
		}
	}
	return rows
}

// newRuntime loads the dataset, builds the catalog and wires the analytics service.
// withStore opens PostgreSQL when configured so runs are persisted.
func (a *App) newRuntime(ctx context.Context, withStore bool) (*runtime, error) {
	rt := &runtime{recorder: metrics.New("priceforecast")}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	if withStore || a.Config.Dataset.Source == "postgres" {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return nil, err
		}
		if store != nil {
			rt.store = store
			rt.closers = append(rt.closers, closeStore)
		}
	}

	data, err := a.loadDataset(ctx, rt.store)
	if err != nil {
		return nil, err
	}

	cache, closeCache := a.newCache(ctx)
	rt.closers = append(rt.closers, closeCache)
	images := enrich.NewImageProvider(enrich.ImageOptions{
		AccessKey:   a.Config.Images.UnsplashKey,
		BaseURL:     a.Config.Images.BaseURL,
		Placeholder: a.Config.Images.Placeholder,
		Timeout:     a.Config.Images.RequestTimeout,
		CacheTTL:    a.Config.Cache.TTL,
	}, cache, a.Logger)

	products, err := dataset.LoadProducts(a.Config.Dataset.ProductsPath)
	if err != nil {
		a.Logger.Warn().Err(err).Str("path", a.Config.Dataset.ProductsPath).Msg("ignoring products file")
	}
	platforms, err := dataset.LoadPlatforms(a.Config.Dataset.PlatformsPath)
	if err != nil {
		a.Logger.Warn().Err(err).Str("path", a.Config.Dataset.PlatformsPath).Msg("ignoring platforms file")
	}
	catalog := dataset.BuildCatalog(ctx, data, products, platforms, images)

	pipeline, err := forecast.NewPipeline(a.Config.ForecastConfig(), a.Config.ExecutionConfig(), a.Logger)
	if err != nil {
		return nil, err
	}

	summaries := enrich.NewGenerator(enrich.GeneratorOptions{
		APIKey:      a.Config.GenAI.APIKey,
		APIURL:      a.Config.GenAI.APIURL,
		Model:       a.Config.GenAI.Model,
		Temperature: a.Config.GenAI.Temperature,
		Timeout:     a.Config.GenAI.RequestTimeout,
	}, a.Logger)

	deps := service.AnalyticsDeps{
		Summaries: summaries,
		Images:    images,
		Recorder:  rt.recorder,
	}
	if rt.store != nil {
		deps.Runs = rt.store
	}
	rt.analytics = service.NewAnalytics(data, catalog, pipeline, service.AnalyticsOptions{
		HistoryDays: a.Config.Dataset.HistoryDays,
		MaxHorizon:  a.Config.Forecast.MaxHorizon,
	}, deps, a.Logger)

	a.Logger.Info().
		Int("rows", data.Len()).
		Int("products", len(catalog.Products)).
		Int("platforms", len(catalog.Platforms)).
		Bool("persistence", rt.store != nil).
		Bool("ai_summary", summaries.Enabled()).
		Msg("dataset loaded")
	ok = true
	return rt, nil
}

// Serve runs the HTTP API until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt.analytics, rt.recorder, server.Options{
		Address:         a.Config.Server.Address,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		RequestTimeout:  a.Config.Server.RequestTimeout,
	}, a.Logger)
	return srv.Run(ctx)
}

// Run executes the long-running scheduled forecasting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunAtStart:   true,
	}, a.Logger)
	if err != nil {
		return err
	}

	deps := service.MonitorDeps{
		Notifier: a.newNotifier(),
		Counter:  rt.recorder,
	}
	if rt.store != nil {
		deps.AlertStore = rt.store
		deps.Locker = rt.store
	}
	monitor := service.NewMonitor(a.Config, sched, rt.analytics, deps, a.Logger)

	a.Logger.Info().Msg("starting forecasting service")
	err = monitor.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("forecasting service stopped")
	return nil
}

// PredictOptions select the series and horizon of a one-off forecast.
type PredictOptions struct {
	ProductID string
	Platform  string
	Days      int
	JSON      bool
}

// MetricsOptions select the series and history window to report.
type MetricsOptions struct {
	ProductID   string
	Platform    string
	HistoryDays int
	JSON        bool
}

// ExportOptions hold parameters for exporting history plus forecast.
type ExportOptions struct {
	ProductID string
	Platform  string
	Days      int
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// ImportOptions configure loading a price CSV into PostgreSQL.
type ImportOptions struct {
	CSVPath   string
	BatchSize int
	DryRun    bool
}
