package app

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"price-forecast/internal/dataset"
	"price-forecast/internal/storage"
)

const defaultImportBatch = 500

// Import loads a price CSV into price_points, upserting in batches.
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	path := opts.CSVPath
	if path == "" {
		path = a.Config.Dataset.Path
	}
	ds, err := dataset.LoadFile(path)
	if err != nil {
		return err
	}
	points := pointsFromRows(ds.Rows())

	if opts.DryRun {
		a.Logger.Warn().Int("rows", len(points)).Str("path", path).Msg("import dry-run: nothing written")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot import")
	}
	if closeStore != nil {
		defer closeStore()
	}

	applied, err := importPoints(ctx, store, points, opts.BatchSize)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("rows", len(points)).Int("applied", applied).Str("path", path).Msg("import complete")
	return nil
}

func importPoints(ctx context.Context, store storage.PriceStore, points []storage.PricePoint, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultImportBatch
	}
	applied := 0
	for start := 0; start < len(points); start += batch {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		end := min(start+batch, len(points))
		n, err := store.UpsertPricePoints(ctx, points[start:end])
		applied += n
		if err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func pointsFromRows(rows []dataset.Row) []storage.PricePoint {
	points := make([]storage.PricePoint, len(rows))
	for i, r := range rows {
		p := storage.PricePoint{
			Date:      r.Date,
			ProductID: r.ProductID,
			Platform:  r.Platform,
			Price:     decimal.NewFromFloat(r.Price),
		}
		if r.OriginalPrice != nil {
			v := decimal.NewFromFloat(*r.OriginalPrice)
			p.OriginalPrice = &v
		}
		if r.IsPromo != nil {
			v := *r.IsPromo != 0
			p.IsPromo = &v
		}
		if r.Stock != nil {
			v := int64(*r.Stock)
			p.Stock = &v
		}
		if r.Rating != nil {
			v := decimal.NewFromFloat(*r.Rating)
			p.Rating = &v
		}
		points[i] = p
	}
	return points
}
