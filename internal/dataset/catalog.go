package dataset

import (
	"context"
	"slices"
	"sort"
	"strings"
)

// DefaultImage is shown when no product image can be resolved.
const DefaultImage = "https://dummyimage.com/300x300/1f2937/ffffff&text=AI"

// Product is reference metadata for one product id.
type Product struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
	Image    string `json:"image,omitempty"`
}

// KnownProducts backs the catalog when no products file is available.
var KnownProducts = map[string]Product{
	"iphone14":       {ID: "iphone14", Name: "iPhone 14 128GB", Brand: "Apple", Category: "Phone", Image: "https://images.unsplash.com/photo-1661961110671-77b529b5a091?auto=format&fit=crop&w=400&q=60"},
	"iphone15":       {ID: "iphone15", Name: "iPhone 15 128GB", Brand: "Apple", Category: "Phone", Image: "https://images.unsplash.com/photo-1695048133142-919945489c86?auto=format&fit=crop&w=400&q=60"},
	"iphone15promax": {ID: "iphone15promax", Name: "iPhone 15 Pro Max 256GB", Brand: "Apple", Category: "Phone", Image: "https://images.unsplash.com/photo-1695048133975-9ec21f84f5a3?auto=format&fit=crop&w=400&q=60"},
	"ipadpro11":      {ID: "ipadpro11", Name: `iPad Pro 11"`, Brand: "Apple", Category: "Tablet", Image: "https://images.unsplash.com/photo-1510552776732-05b39eca7f00?auto=format&fit=crop&w=400&q=60"},
	"airpodspro2":    {ID: "airpodspro2", Name: "AirPods Pro 2", Brand: "Apple", Category: "Audio", Image: "https://images.unsplash.com/photo-1585386959984-a4155224a1ad?auto=format&fit=crop&w=400&q=60"},
	"macbookairm2":   {ID: "macbookairm2", Name: "MacBook Air M2", Brand: "Apple", Category: "Laptop", Image: "https://images.unsplash.com/photo-1502877338535-766e1452684a?auto=format&fit=crop&w=400&q=60"},
	"macbookpro14":   {ID: "macbookpro14", Name: `MacBook Pro 14"`, Brand: "Apple", Category: "Laptop", Image: "https://images.unsplash.com/photo-1517336714731-489689fd1ca8?auto=format&fit=crop&w=400&q=60"},
	"dellxps13":      {ID: "dellxps13", Name: "Dell XPS 13", Brand: "Dell", Category: "Laptop", Image: "https://images.unsplash.com/photo-1517436073-3b1d8f2e0d19?auto=format&fit=crop&w=400&q=60"},
	"sonyWH1000XM5":  {ID: "sonyWH1000XM5", Name: "Sony WH-1000XM5", Brand: "Sony", Category: "Audio", Image: "https://images.unsplash.com/photo-1484704849700-f032a568e944?auto=format&fit=crop&w=400&q=60"},
	"gopro12":        {ID: "gopro12", Name: "GoPro Hero 12", Brand: "GoPro", Category: "Camera", Image: "https://images.unsplash.com/photo-1508896694512-1eade5586790?auto=format&fit=crop&w=400&q=60"},
}

// ImageResolver finds an image URL for a set of search keywords.
type ImageResolver interface {
	Resolve(ctx context.Context, keywords ...string) string
}

// CatalogEntry is one product as shown to clients.
type CatalogEntry struct {
	Product
	Platforms []string `json:"platforms"`
}

// Catalog lists selectable products and platforms.
type Catalog struct {
	Platforms []string       `json:"platforms"`
	Products  []CatalogEntry `json:"products"`
}

// Lookup finds a catalog entry by product id.
func (c *Catalog) Lookup(id string) (CatalogEntry, bool) {
	for _, e := range c.Products {
		if e.ID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// LoadProducts reads products.csv. A missing file, or one lacking the
// product_id, name, brand and category columns, yields no products.
func LoadProducts(path string) ([]Product, error) {
	cols, records, err := readOptionalCSV(path)
	if err != nil || cols == nil {
		return nil, err
	}
	for _, name := range []string{"product_id", "name", "brand", "category"} {
		if _, ok := cols[name]; !ok {
			return nil, nil
		}
	}

	var out []Product
	for _, rec := range records {
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		id := get("product_id")
		if id == "" {
			continue
		}
		out = append(out, Product{
			ID:       id,
			Name:     get("name"),
			Brand:    get("brand"),
			Category: get("category"),
			Image:    get("image"),
		})
	}
	return out, nil
}

// LoadPlatforms reads the platform column of platforms.csv, sorted and deduplicated.
func LoadPlatforms(path string) ([]string, error) {
	cols, records, err := readOptionalCSV(path)
	if err != nil || cols == nil {
		return nil, err
	}
	i, ok := cols["platform"]
	if !ok {
		return nil, nil
	}
	seen := make(map[string]struct{})
	for _, rec := range records {
		if i < len(rec) {
			if p := strings.TrimSpace(rec[i]); p != "" {
				seen[p] = struct{}{}
			}
		}
	}
	return sortedKeys(seen), nil
}

// BuildCatalog assembles the catalog. Products from the reference file take
// precedence; otherwise every product id in the data is listed with metadata
// from KnownProducts. Missing images are resolved through images, which may be nil.
func BuildCatalog(ctx context.Context, ds *Dataset, products []Product, platforms []string, images ImageResolver) *Catalog {
	if len(platforms) == 0 {
		platforms = ds.Platforms()
	}
	resolve := func(p Product) string {
		if p.Image != "" {
			return p.Image
		}
		if images != nil {
			if url := images.Resolve(ctx, p.Name, p.Brand, p.Category); url != "" {
				return url
			}
		}
		return DefaultImage
	}

	var entries []CatalogEntry
	if len(products) > 0 {
		for _, p := range products {
			if p.Name == "" {
				p.Name = p.ID
			}
			p.Image = resolve(p)
			used := ds.PlatformsFor(p.ID)
			if len(used) == 0 {
				used = slices.Clone(platforms)
			}
			entries = append(entries, CatalogEntry{Product: p, Platforms: used})
		}
	} else {
		for _, id := range ds.Products() {
			p := KnownProducts[id]
			p.ID = id
			if p.Name == "" {
				p.Name = id
			}
			if brand, category := ds.Attributes(id); brand != "" || category != "" {
				p.Brand, p.Category = brand, category
			}
			p.Image = resolve(p)
			entries = append(entries, CatalogEntry{Product: p, Platforms: ds.PlatformsFor(id)})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return &Catalog{Platforms: platforms, Products: entries}
}
