package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"price-forecast/internal/forecast"
)

const sample = `date,product_id,platform,price,original_price,is_promo,stock,rating,brand,category
2024-01-03,iphone15,Shopee,20500000,21000000,1,15,4.8,Apple,Phone
2024-01-01,iphone15,Shopee,21000000,,0,,,Apple,Phone
2024-01-02,iphone15,Shopee,20800000,21000000,false,12,4.7,Apple,Phone
2024-01-01,iphone15,Lazada,20900000,,,,,Apple,Phone
2024-01-02,dellxps13,Tiki,30000000,,,,,,
`

func TestLoadSortsAndParses(t *testing.T) {
	ds, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if ds.Len() != 5 {
		t.Fatalf("expected 5 rows, got %d", ds.Len())
	}

	series, err := ds.Series("iphone15", "Shopee")
	if err != nil {
		t.Fatalf("Series() error = %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("expected 3 records, got %d", len(series))
	}
	for i := 1; i < len(series); i++ {
		if !series[i-1].Date.Before(series[i].Date) {
			t.Fatalf("series not sorted at %d", i)
		}
	}
	first := series[0]
	if first.OriginalPrice != nil || first.Stock != nil {
		t.Fatalf("expected empty optional fields, got %+v", first)
	}
	if first.IsPromo == nil || *first.IsPromo != 0 {
		t.Fatalf("expected promo flag 0, got %v", first.IsPromo)
	}
	if got := *series[1].IsPromo; got != 0 {
		t.Fatalf("expected false promo to parse as 0, got %v", got)
	}
	if got := *series[2].Stock; got != 15 {
		t.Fatalf("expected stock 15, got %v", got)
	}

	latest, ok := ds.Latest("iphone15", "Shopee")
	if !ok || latest.Rating == nil || *latest.Rating != 4.8 {
		t.Fatalf("unexpected latest row %+v", latest)
	}
	if !latest.Date.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected latest date %v", latest.Date)
	}

	if got := strings.Join(ds.Platforms(), ","); got != "Lazada,Shopee,Tiki" {
		t.Fatalf("unexpected platforms %s", got)
	}
	if got := strings.Join(ds.PlatformsFor("iphone15"), ","); got != "Lazada,Shopee" {
		t.Fatalf("unexpected product platforms %s", got)
	}
}

func TestLoadSemicolonWithTitleLine(t *testing.T) {
	input := "Price export\n" +
		"date;product_id;platform;price\n" +
		"2024-02-01;gopro12;Tiki;9000000\n" +
		"2024-02-02;gopro12;Tiki;8900000\n"

	ds, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	series, err := ds.Series("gopro12", "Tiki")
	if err != nil {
		t.Fatalf("Series() error = %v", err)
	}
	if len(series) != 2 || series[1].Price != 8900000 {
		t.Fatalf("unexpected series %+v", series)
	}
}

func TestLoadMissingColumn(t *testing.T) {
	_, err := Load(strings.NewReader("date,product_id,price\n2024-01-01,a,1\n"))
	if !errors.Is(err, forecast.ErrMissingColumn) {
		t.Fatalf("expected missing column error, got %v", err)
	}
	var mc *forecast.MissingColumnError
	if !errors.As(err, &mc) || mc.Column != "platform" {
		t.Fatalf("expected platform column to be reported, got %v", err)
	}
}

func TestLoadRejectsNegativePrice(t *testing.T) {
	_, err := Load(strings.NewReader("date,product_id,platform,price\n2024-01-01,a,b,-5\n"))
	if err == nil || !strings.Contains(err.Error(), "negative price") {
		t.Fatalf("expected negative price error, got %v", err)
	}
}

func TestLoadRejectsNonFinitePrice(t *testing.T) {
	for _, price := range []string{"NaN", "nan", "Inf", "-Inf", "+Inf"} {
		_, err := Load(strings.NewReader("date,product_id,platform,price\n2024-01-01,a,b," + price + "\n"))
		if err == nil || !strings.Contains(err.Error(), "not a finite number") {
			t.Fatalf("price %s: expected non-finite error, got %v", price, err)
		}
	}
}

func TestSeriesNotFound(t *testing.T) {
	ds, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := ds.Series("iphone15", "Tiki"); !errors.Is(err, ErrSeriesNotFound) {
		t.Fatalf("expected ErrSeriesNotFound, got %v", err)
	}
}

type stubImages struct{ calls int }

func (s *stubImages) Resolve(_ context.Context, keywords ...string) string {
	s.calls++
	return "https://img.example/" + strings.Join(keywords, "+")
}

func TestBuildCatalogFromData(t *testing.T) {
	ds, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	images := &stubImages{}
	cat := BuildCatalog(context.Background(), ds, nil, nil, images)

	if len(cat.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(cat.Products))
	}
	if cat.Products[0].ID != "dellxps13" || cat.Products[1].ID != "iphone15" {
		t.Fatalf("expected catalog sorted by name, got %+v", cat.Products)
	}
	if cat.Products[1].Name != "iPhone 15 128GB" {
		t.Fatalf("expected known metadata name, got %q", cat.Products[1].Name)
	}
	if images.calls != 0 {
		t.Fatalf("known products carry images, resolver called %d times", images.calls)
	}
	entry, ok := cat.Lookup("iphone15")
	if !ok || strings.Join(entry.Platforms, ",") != "Lazada,Shopee" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestBuildCatalogFromReferenceFiles(t *testing.T) {
	dir := t.TempDir()
	products := filepath.Join(dir, "products.csv")
	platforms := filepath.Join(dir, "platforms.csv")
	if err := os.WriteFile(products, []byte("product_id,name,brand,category\nzz,Zeta Phone,Zeta,Phone\niphone15,iPhone 15,Apple,Phone\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(platforms, []byte("platform\nTiki\nShopee\nLazada\nTiki\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	prods, err := LoadProducts(products)
	if err != nil || len(prods) != 2 {
		t.Fatalf("LoadProducts() = %v, %v", prods, err)
	}
	plats, err := LoadPlatforms(platforms)
	if err != nil || strings.Join(plats, ",") != "Lazada,Shopee,Tiki" {
		t.Fatalf("LoadPlatforms() = %v, %v", plats, err)
	}

	ds, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	images := &stubImages{}
	cat := BuildCatalog(context.Background(), ds, prods, plats, images)
	if images.calls != 2 {
		t.Fatalf("expected resolver for both products, got %d calls", images.calls)
	}
	zeta, ok := cat.Lookup("zz")
	if !ok {
		t.Fatal("expected zz in catalog")
	}
	if strings.Join(zeta.Platforms, ",") != "Lazada,Shopee,Tiki" {
		t.Fatalf("unobserved product should list all platforms, got %v", zeta.Platforms)
	}
	if cat.Products[0].Name != "Zeta Phone" && cat.Products[0].Name != "iPhone 15" {
		t.Fatalf("unexpected first product %+v", cat.Products[0])
	}
}

func TestLoadReferenceFilesMissing(t *testing.T) {
	dir := t.TempDir()
	prods, err := LoadProducts(filepath.Join(dir, "nope.csv"))
	if err != nil || prods != nil {
		t.Fatalf("expected nil products, got %v, %v", prods, err)
	}

	bad := filepath.Join(dir, "products.csv")
	if err := os.WriteFile(bad, []byte("product_id,name\na,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	prods, err = LoadProducts(bad)
	if err != nil || prods != nil {
		t.Fatalf("expected products without required columns to be ignored, got %v, %v", prods, err)
	}
}
