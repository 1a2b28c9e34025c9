package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"price-forecast/internal/forecast"
)

// PricePoint is one persisted daily observation of a product on a platform.
type PricePoint struct {
	Date          time.Time
	ProductID     string
	Platform      string
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	IsPromo       *bool
	Stock         *int64
	Rating        *decimal.Decimal
}

// Record converts the point into forecasting input.
func (p PricePoint) Record() forecast.Record {
	rec := forecast.Record{
		Date:      p.Date,
		ProductID: p.ProductID,
		Platform:  p.Platform,
		Price:     p.Price.InexactFloat64(),
	}
	if p.OriginalPrice != nil {
		v := p.OriginalPrice.InexactFloat64()
		rec.OriginalPrice = &v
	}
	if p.IsPromo != nil {
		v := 0.0
		if *p.IsPromo {
			v = 1
		}
		rec.IsPromo = &v
	}
	if p.Stock != nil {
		v := float64(*p.Stock)
		rec.Stock = &v
	}
	return rec
}

// ForecastPoint is one predicted day stored with a run.
type ForecastPoint struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
}

// ForecastRun is the audit record of one pipeline execution.
type ForecastRun struct {
	ID             uuid.UUID
	ProductID      string
	Platform       string
	LastObserved   time.Time
	LastPrice      decimal.Decimal
	HorizonDays    int
	WindowLength   int
	TrainLoss      float64
	TestLoss       float64
	ChangePct      decimal.Decimal
	Recommendation string
	Predictions    []ForecastPoint
	Status         string
	Error          *string
	Duration       time.Duration
	CreatedAt      time.Time
}

// AlertRecord captures an emitted forecast alert for auditing.
type AlertRecord struct {
	ID           int64
	RunID        uuid.UUID
	ProductID    string
	Platform     string
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}
