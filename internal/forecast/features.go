package forecast

import (
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Feature columns in matrix order.
const (
	ColPrice = iota
	ColOriginalPrice
	ColPromo
	ColStock

	NumFeatures
)

// SafetyMargin is the number of rows required beyond the window length.
const SafetyMargin = 5

// Record is one observed day of a (product, platform) series.
type Record struct {
	Date          time.Time
	ProductID     string
	Platform      string
	Price         float64
	OriginalPrice *float64
	IsPromo       *float64
	Stock         *float64
}

// Matrix is a row-major T×F feature matrix.
type Matrix [][]float64

// Row returns the features of r with missing values filled.
func (r Record) Row() []float64 {
	row := make([]float64, NumFeatures)
	row[ColPrice] = r.Price
	row[ColOriginalPrice] = r.Price
	if r.OriginalPrice != nil {
		row[ColOriginalPrice] = *r.OriginalPrice
	}
	if r.IsPromo != nil {
		row[ColPromo] = *r.IsPromo
	}
	if r.Stock != nil {
		row[ColStock] = *r.Stock
	}
	return row
}

// Scaler maps each column's observed [min, max] onto [0, 1].
type Scaler struct {
	Min   []float64
	Range []float64
}

// FitScaler computes per-column bounds over m. Zero-variance columns get a
// unit range so they scale to 0 and invert exactly.
func FitScaler(m Matrix) *Scaler {
	if len(m) == 0 {
		return &Scaler{}
	}
	cols := len(m[0])
	s := &Scaler{Min: make([]float64, cols), Range: make([]float64, cols)}
	column := make([]float64, len(m))
	for c := 0; c < cols; c++ {
		for i, row := range m {
			column[i] = row[c]
		}
		lo, hi := floats.Min(column), floats.Max(column)
		s.Min[c] = lo
		s.Range[c] = hi - lo
		if s.Range[c] == 0 {
			s.Range[c] = 1
		}
	}
	return s
}

// Transform returns a scaled copy of row.
func (s *Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for c, v := range row {
		out[c] = (v - s.Min[c]) / s.Range[c]
	}
	return out
}

// Inverse maps a scaled row back to original units. Values outside the fitted
// range are extrapolated, not clamped.
func (s *Scaler) Inverse(row []float64) []float64 {
	out := make([]float64, len(row))
	for c, v := range row {
		out[c] = v*s.Range[c] + s.Min[c]
	}
	return out
}

// TransformMatrix scales every row of m.
func (s *Scaler) TransformMatrix(m Matrix) Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = s.Transform(row)
	}
	return out
}

// Prepared is a cleaned, scaled series together with its fitted scaler.
type Prepared struct {
	Records []Record
	Raw     Matrix
	Scaled  Matrix
	Scaler  *Scaler
}

func checkSeries(sorted []Record) error {
	first := sorted[0]
	for i, r := range sorted {
		if r.ProductID != first.ProductID || r.Platform != first.Platform {
			return &SeriesError{Reason: fmt.Sprintf("mixed series %s/%s and %s/%s", first.ProductID, first.Platform, r.ProductID, r.Platform)}
		}
		if i > 0 && r.Date.Equal(sorted[i-1].Date) {
			return &SeriesError{Reason: fmt.Sprintf("duplicate date %s", r.Date.Format("2006-01-02"))}
		}
	}
	return nil
}

// LastDate is the date of the most recent observation.
func (p *Prepared) LastDate() time.Time {
	return p.Records[len(p.Records)-1].Date
}

// Prepare sorts records by date, builds the feature matrix and fits a scaler on it.
// All records must belong to one product/platform pair and carry distinct dates.
func Prepare(records []Record, windowLength int) (*Prepared, error) {
	need := windowLength + SafetyMargin
	if len(records) < need {
		return nil, &InsufficientDataError{Have: len(records), Need: need, Reason: "series shorter than window length plus margin"}
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b Record) int {
		return a.Date.Compare(b.Date)
	})
	if err := checkSeries(sorted); err != nil {
		return nil, err
	}

	raw := make(Matrix, len(sorted))
	for i, r := range sorted {
		raw[i] = r.Row()
	}

	scaler := FitScaler(raw)
	return &Prepared{
		Records: sorted,
		Raw:     raw,
		Scaled:  scaler.TransformMatrix(raw),
		Scaler:  scaler,
	}, nil
}
