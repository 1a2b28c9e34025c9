package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"price-forecast/internal/forecast"
)

const sniffLines = 5

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
}

// LoadFile reads a price CSV from disk.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Load(bytes.NewReader(data))
}

// Load parses a price CSV. The delimiter is sniffed from the first lines and a
// single leading title line above the header is skipped.
func Load(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	sample := firstLines(data, sniffLines)
	delim := sniffDelimiter(sample)
	if len(sample) > 1 && !strings.Contains(strings.ToLower(sample[0]), "date") &&
		strings.Contains(strings.ToLower(sample[1]), "date") {
		data = data[len(sample[0]):]
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &forecast.MissingColumnError{Column: "date"}
		}
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	cols := indexColumns(header)
	for _, name := range []string{"date", "product_id", "platform", "price"} {
		if _, ok := cols[name]; !ok {
			return nil, &forecast.MissingColumnError{Column: name}
		}
	}

	var rows []Row
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read dataset line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		row, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("parse dataset line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return New(rows), nil
}

func parseRow(rec []string, cols map[string]int) (Row, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	date, err := parseDate(get("date"))
	if err != nil {
		return Row{}, err
	}
	price, err := strconv.ParseFloat(get("price"), 64)
	if err != nil {
		return Row{}, fmt.Errorf("invalid price %q: %w", get("price"), err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Row{}, fmt.Errorf("invalid price %q: not a finite number", get("price"))
	}
	if price < 0 {
		return Row{}, fmt.Errorf("negative price %v", price)
	}

	row := Row{
		Record: forecast.Record{
			Date:      date,
			ProductID: get("product_id"),
			Platform:  get("platform"),
			Price:     price,
		},
		Brand:    get("brand"),
		Category: get("category"),
	}
	if row.ProductID == "" || row.Platform == "" {
		return Row{}, fmt.Errorf("product_id and platform are required")
	}
	if row.OriginalPrice, err = optionalFloat(get("original_price")); err != nil {
		return Row{}, fmt.Errorf("invalid original_price: %w", err)
	}
	if row.IsPromo, err = optionalFlag(get("is_promo")); err != nil {
		return Row{}, fmt.Errorf("invalid is_promo: %w", err)
	}
	if row.Stock, err = optionalFloat(get("stock")); err != nil {
		return Row{}, fmt.Errorf("invalid stock: %w", err)
	}
	if row.Rating, err = optionalFloat(get("rating")); err != nil {
		return Row{}, fmt.Errorf("invalid rating: %w", err)
	}
	return row, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func optionalFloat(s string) (*float64, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalFlag(s string) (*float64, error) {
	if b, err := strconv.ParseBool(s); err == nil {
		v := 0.0
		if b {
			v = 1
		}
		return &v, nil
	}
	return optionalFloat(s)
}

func firstLines(data []byte, n int) []string {
	var lines []string
	br := bufio.NewReader(bytes.NewReader(data))
	for len(lines) < n {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			break
		}
	}
	return lines
}

func sniffDelimiter(lines []string) rune {
	sample := strings.Join(lines, "")
	if strings.Count(sample, ",") >= strings.Count(sample, ";") {
		return ','
	}
	return ';'
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// readOptionalCSV returns the header index and records of a reference file,
// or nil when the file does not exist.
func readOptionalCSV(path string) (map[string]int, [][]string, error) {
	if path == "" {
		return nil, nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	header := all[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return indexColumns(header), all[1:], nil
}
