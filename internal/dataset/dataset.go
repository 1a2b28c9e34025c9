package dataset

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"price-forecast/internal/forecast"
)

// ErrSeriesNotFound is returned when no rows exist for a product/platform pair.
var ErrSeriesNotFound = errors.New("no data for this product and platform")

// Row is one line of the price dataset.
type Row struct {
	forecast.Record
	Rating   *float64
	Brand    string
	Category string
}

type seriesKey struct {
	product  string
	platform string
}

// Dataset is an immutable, date-ordered view over loaded rows.
type Dataset struct {
	rows      []Row
	bySeries  map[seriesKey][]int
	byProduct map[string][]int
}

// New orders rows by date and indexes them by product and platform.
func New(rows []Row) *Dataset {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b Row) int {
		return a.Date.Compare(b.Date)
	})

	ds := &Dataset{
		rows:      sorted,
		bySeries:  make(map[seriesKey][]int),
		byProduct: make(map[string][]int),
	}
	for i, r := range sorted {
		k := seriesKey{product: r.ProductID, platform: r.Platform}
		ds.bySeries[k] = append(ds.bySeries[k], i)
		ds.byProduct[r.ProductID] = append(ds.byProduct[r.ProductID], i)
	}
	return ds
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.rows)
}

// Rows returns all rows in date order.
func (d *Dataset) Rows() []Row {
	return d.rows
}

// Series returns the records of one product on one platform, oldest first.
func (d *Dataset) Series(product, platform string) ([]forecast.Record, error) {
	idx := d.bySeries[seriesKey{product: product, platform: platform}]
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: product=%s platform=%s", ErrSeriesNotFound, product, platform)
	}
	out := make([]forecast.Record, len(idx))
	for i, j := range idx {
		out[i] = d.rows[j].Record
	}
	return out, nil
}

// Latest returns the most recent row of a series.
func (d *Dataset) Latest(product, platform string) (Row, bool) {
	idx := d.bySeries[seriesKey{product: product, platform: platform}]
	if len(idx) == 0 {
		return Row{}, false
	}
	return d.rows[idx[len(idx)-1]], true
}

// Products lists distinct product ids, sorted.
func (d *Dataset) Products() []string {
	out := make([]string, 0, len(d.byProduct))
	for id := range d.byProduct {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Platforms lists distinct platforms across the dataset, sorted.
func (d *Dataset) Platforms() []string {
	seen := make(map[string]struct{})
	for k := range d.bySeries {
		seen[k.platform] = struct{}{}
	}
	return sortedKeys(seen)
}

// PlatformsFor lists the platforms a product was observed on, sorted.
func (d *Dataset) PlatformsFor(product string) []string {
	seen := make(map[string]struct{})
	for _, i := range d.byProduct[product] {
		if p := d.rows[i].Platform; p != "" {
			seen[p] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Attributes returns the brand and category recorded on a product's first row.
func (d *Dataset) Attributes(product string) (brand, category string) {
	idx := d.byProduct[product]
	if len(idx) == 0 {
		return "", ""
	}
	first := d.rows[idx[0]]
	return first.Brand, first.Category
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
