package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	upsertPricePointSQL = `INSERT INTO price_points (
        obs_date,
        product_id,
        platform,
        price,
        original_price,
        is_promo,
        stock,
        rating
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (product_id, platform, obs_date) DO UPDATE
    SET
        price          = EXCLUDED.price,
        original_price = EXCLUDED.original_price,
        is_promo       = EXCLUDED.is_promo,
        stock          = EXCLUDED.stock,
        rating         = EXCLUDED.rating;`

	pricePointColumns = `obs_date,
        product_id,
        platform,
        price::text,
        original_price::text,
        is_promo,
        stock,
        rating::text`

	listPricePointsSQL = `SELECT ` + pricePointColumns + `
    FROM price_points
    WHERE product_id = $1
      AND platform = $2
    ORDER BY obs_date;`

	listAllPricePointsSQL = `SELECT ` + pricePointColumns + `
    FROM price_points
    ORDER BY obs_date, product_id, platform;`

	insertForecastRunSQL = `INSERT INTO forecast_runs (
        id,
        product_id,
        platform,
        last_observed,
        last_price,
        horizon_days,
        window_length,
        train_loss,
        test_loss,
        change_pct,
        recommendation,
        predictions,
        status,
        error,
        duration_ms
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    RETURNING created_at;`

	forecastRunColumns = `id::text,
        product_id,
        platform,
        last_observed,
        last_price::text,
        horizon_days,
        window_length,
        train_loss,
        test_loss,
        change_pct::text,
        recommendation,
        predictions,
        status,
        error,
        duration_ms,
        created_at`

	listRecentRunsSQL = `SELECT ` + forecastRunColumns + `
    FROM forecast_runs
    ORDER BY created_at DESC
    LIMIT $1;`

	getForecastRunSQL = `SELECT ` + forecastRunColumns + `
    FROM forecast_runs
    WHERE id = $1;`

	insertAlertSQL = `INSERT INTO forecast_alerts (
        run_id,
        product_id,
        platform,
        change_pct,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        run_id::text,
        product_id,
        platform,
        change_pct::text,
        threshold_pct::text,
        direction,
        channels,
        created_at
    FROM forecast_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PriceStore persists observed prices.
type PriceStore interface {
	UpsertPricePoints(ctx context.Context, points []PricePoint) (int, error)
	ListPricePoints(ctx context.Context, productID, platform string) ([]PricePoint, error)
	ListAllPricePoints(ctx context.Context) ([]PricePoint, error)
}

// RunStore records forecast executions.
type RunStore interface {
	InsertForecastRun(ctx context.Context, run *ForecastRun) error
	GetForecastRun(ctx context.Context, id uuid.UUID) (ForecastRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]ForecastRun, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store implements every storage interface on one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ PriceStore     = (*Store)(nil)
	_ RunStore       = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts a session-level advisory lock on a dedicated
// connection. The returned func unlocks and releases that connection.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertPricePoints writes points in one batch and returns how many were applied.
func (s *Store) UpsertPricePoints(ctx context.Context, points []PricePoint) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(upsertPricePointSQL,
			p.Date,
			p.ProductID,
			p.Platform,
			p.Price.String(),
			decimalArg(p.OriginalPrice),
			p.IsPromo,
			p.Stock,
			decimalArg(p.Rating),
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	applied := 0
	for i := range points {
		tag, execErr := results.Exec()
		if execErr != nil {
			return applied, fmt.Errorf("upsert price point %d (%s/%s %s): %w",
				i, points[i].ProductID, points[i].Platform, points[i].Date.Format("2006-01-02"), execErr)
		}
		applied += int(tag.RowsAffected())
	}
	return applied, nil
}

// ListPricePoints returns one series ordered by date.
func (s *Store) ListPricePoints(ctx context.Context, productID, platform string) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listPricePointsSQL, productID, platform)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	return collectPricePoints(rows)
}

// ListAllPricePoints returns every stored observation ordered by date.
func (s *Store) ListAllPricePoints(ctx context.Context) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listAllPricePointsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list all price points: %w", queryErr)
	}
	return collectPricePoints(rows)
}

func collectPricePoints(rows pgx.Rows) ([]PricePoint, error) {
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		var (
			p           PricePoint
			priceStr    string
			originalStr *string
			ratingStr   *string
		)
		if err := rows.Scan(
			&p.Date,
			&p.ProductID,
			&p.Platform,
			&priceStr,
			&originalStr,
			&p.IsPromo,
			&p.Stock,
			&ratingStr,
		); err != nil {
			return nil, err
		}

		var err error
		if p.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if p.OriginalPrice, err = parseNullableDecimal(originalStr); err != nil {
			return nil, fmt.Errorf("parse original price: %w", err)
		}
		if p.Rating, err = parseNullableDecimal(ratingStr); err != nil {
			return nil, fmt.Errorf("parse rating: %w", err)
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// InsertForecastRun persists run, assigning an id when unset, and fills CreatedAt.
func (s *Store) InsertForecastRun(ctx context.Context, run *ForecastRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	predictions, err := json.Marshal(run.Predictions)
	if err != nil {
		return fmt.Errorf("marshal predictions: %w", err)
	}

	var errMsg any
	if run.Error != nil {
		errMsg = *run.Error
	}

	row := pool.QueryRow(ctx, insertForecastRunSQL,
		run.ID.String(),
		run.ProductID,
		run.Platform,
		run.LastObserved,
		run.LastPrice.String(),
		run.HorizonDays,
		run.WindowLength,
		run.TrainLoss,
		run.TestLoss,
		run.ChangePct.String(),
		run.Recommendation,
		predictions,
		run.Status,
		errMsg,
		run.Duration.Milliseconds(),
	)
	if scanErr := row.Scan(&run.CreatedAt); scanErr != nil {
		return fmt.Errorf("insert forecast run: %w", scanErr)
	}
	return nil
}

// GetForecastRun loads one run by id.
func (s *Store) GetForecastRun(ctx context.Context, id uuid.UUID) (ForecastRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return ForecastRun{}, err
	}
	rows, queryErr := pool.Query(ctx, getForecastRunSQL, id.String())
	if queryErr != nil {
		return ForecastRun{}, fmt.Errorf("get forecast run: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return ForecastRun{}, rows.Err()
		}
		return ForecastRun{}, ErrNotFound
	}
	return scanForecastRun(rows)
}

// ListRecentRuns lists the most recent runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]ForecastRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]ForecastRun, 0, limit)
	for rows.Next() {
		run, scanErr := scanForecastRun(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var runID any
	if alert.RunID != uuid.Nil {
		runID = alert.RunID.String()
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		runID,
		alert.ProductID,
		alert.Platform,
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		alert.Channels,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec          AlertRecord
			runID        *string
			changeStr    string
			thresholdStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&runID,
			&rec.ProductID,
			&rec.Platform,
			&changeStr,
			&thresholdStr,
			&rec.Direction,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if runID != nil {
			if rec.RunID, err = uuid.Parse(*runID); err != nil {
				return nil, fmt.Errorf("parse run id: %w", err)
			}
		}
		if rec.ChangePct, err = decimal.NewFromString(changeStr); err != nil {
			return nil, fmt.Errorf("parse change pct: %w", err)
		}
		if rec.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", err)
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanForecastRun(rows pgx.Rows) (ForecastRun, error) {
	var (
		run         ForecastRun
		idStr       string
		lastStr     string
		changeStr   string
		predictions []byte
		errMsg      *string
		durationMS  int64
	)
	if err := rows.Scan(
		&idStr,
		&run.ProductID,
		&run.Platform,
		&run.LastObserved,
		&lastStr,
		&run.HorizonDays,
		&run.WindowLength,
		&run.TrainLoss,
		&run.TestLoss,
		&changeStr,
		&run.Recommendation,
		&predictions,
		&run.Status,
		&errMsg,
		&durationMS,
		&run.CreatedAt,
	); err != nil {
		return ForecastRun{}, err
	}

	var err error
	if run.ID, err = uuid.Parse(idStr); err != nil {
		return ForecastRun{}, fmt.Errorf("parse run id: %w", err)
	}
	if run.LastPrice, err = decimal.NewFromString(lastStr); err != nil {
		return ForecastRun{}, fmt.Errorf("parse last price: %w", err)
	}
	if run.ChangePct, err = decimal.NewFromString(changeStr); err != nil {
		return ForecastRun{}, fmt.Errorf("parse change pct: %w", err)
	}
	if len(predictions) > 0 {
		if err := json.Unmarshal(predictions, &run.Predictions); err != nil {
			return ForecastRun{}, fmt.Errorf("decode predictions: %w", err)
		}
	}
	run.Error = errMsg
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullableDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
