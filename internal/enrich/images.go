package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/logging"
)

const unsplashSearchPath = "/search/photos"

// ImageOptions parameterise the product image lookup.
type ImageOptions struct {
	AccessKey   string
	BaseURL     string
	Placeholder string
	Timeout     time.Duration
	CacheTTL    time.Duration
}

// ImageProvider resolves product images through the Unsplash search API.
// Results, including fallbacks, are cached per query.
type ImageProvider struct {
	opts    ImageOptions
	cache   Cache
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewImageProvider builds a provider. A nil cache uses an in-memory one.
func NewImageProvider(opts ImageOptions, cache Cache, logger zerolog.Logger) *ImageProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.unsplash.com"
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &ImageProvider{
		opts:    opts,
		cache:   cache,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logging.Component(logger, "image_provider"),
	}
}

// Resolve returns an image URL for the joined keywords. It never fails:
// lookup errors fall back to a keyword search URL, empty queries to the placeholder.
func (p *ImageProvider) Resolve(ctx context.Context, keywords ...string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			parts = append(parts, k)
		}
	}
	query := strings.Join(parts, " ")
	if query == "" {
		return p.opts.Placeholder
	}

	cacheKey := "image:" + strings.ToLower(query)
	if v, ok, err := p.cache.Get(ctx, cacheKey); err != nil {
		p.logger.Warn().Err(err).Str("query", query).Msg("image cache read failed")
	} else if ok {
		return v
	}

	var found string
	if p.opts.AccessKey != "" {
		u, err := p.search(ctx, query)
		if err != nil {
			p.logger.Warn().Err(err).Str("query", query).Msg("unsplash search failed")
		}
		found = u
	}
	if found == "" {
		found = "https://source.unsplash.com/400x400/?" + strings.ReplaceAll(query, " ", "+")
	}

	if err := p.cache.Set(ctx, cacheKey, found, p.opts.CacheTTL); err != nil {
		p.logger.Warn().Err(err).Str("query", query).Msg("image cache write failed")
	}
	return found
}

func (p *ImageProvider) search(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", "1")
	params.Set("orientation", "squarish")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+unsplashSearchPath+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Client-ID "+p.opts.AccessKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", parseHTTPError("unsplash", resp.StatusCode, payload)
	}

	var res struct {
		Results []struct {
			URLs struct {
				Regular string `json:"regular"`
			} `json:"urls"`
		} `json:"results"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return "", fmt.Errorf("decode unsplash response: %w", err)
	}
	if len(res.Results) == 0 {
		return "", nil
	}
	return res.Results[0].URLs.Regular, nil
}
