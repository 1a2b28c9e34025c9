package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-forecast/internal/logging"
)

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("summary generator disabled")

const defaultRecommendation = "Consider your budget before buying."

// SummaryInput is the context handed to the language model.
type SummaryInput struct {
	ProductName string
	Platform    string
	History     []float64
	Forecast    []float64
}

// Summary is the model's analysis of a forecast.
type Summary struct {
	Analysis       string `json:"analysis"`
	Recommendation string `json:"recommendation"`
}

// SummaryGenerator writes a short narrative for a forecast.
type SummaryGenerator interface {
	Enabled() bool
	Generate(ctx context.Context, in SummaryInput) (*Summary, error)
}

// GeneratorOptions configure the chat completions client.
type GeneratorOptions struct {
	APIKey      string
	APIURL      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Generator calls an OpenAI-compatible chat completions endpoint.
type Generator struct {
	opts   GeneratorOptions
	client *http.Client
	logger zerolog.Logger
}

// NewGenerator builds a Generator. Without an API key it stays disabled.
func NewGenerator(opts GeneratorOptions, logger zerolog.Logger) *Generator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if opts.APIURL == "" {
		opts.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	return &Generator{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		logger: logging.Component(logger, "summary_generator"),
	}
}

// Enabled reports whether an API key is configured.
func (g *Generator) Enabled() bool {
	return g.opts.APIKey != ""
}

// Generate asks the model for a JSON object with analysis and recommendation.
// A non-JSON reply is used verbatim as the analysis.
func (g *Generator) Generate(ctx context.Context, in SummaryInput) (*Summary, error) {
	if !g.Enabled() {
		return nil, ErrDisabled
	}

	body, err := json.Marshal(chatRequest{
		Model: g.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are an e-commerce assistant. Answer briefly and helpfully."},
			{Role: "user", Content: buildPrompt(in)},
		},
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError("genai", resp.StatusCode, payload)
	}

	var res chatResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(res.Choices) == 0 {
		return nil, errors.New("chat response has no choices")
	}

	summary := parseSummary(res.Choices[0].Message.Content)
	if summary.Analysis == "" {
		return nil, errors.New("chat response has empty analysis")
	}
	g.logger.Debug().Str("product", in.ProductName).Str("platform", in.Platform).Msg("summary generated")
	return summary, nil
}

func buildPrompt(in SummaryInput) string {
	history := in.History
	if len(history) > 30 {
		history = history[len(history)-30:]
	}
	var b strings.Builder
	b.WriteString("You are an e-commerce pricing expert. Analyse the price history and forecast, ")
	b.WriteString("write a short description and give a clear buying recommendation.\n")
	fmt.Fprintf(&b, "- Product: %s\n", in.ProductName)
	fmt.Fprintf(&b, "- Platform: %s\n", in.Platform)
	fmt.Fprintf(&b, "- Prices over the last 30 days: %v\n", history)
	fmt.Fprintf(&b, "- Forecast for the next %d days: %v\n", len(in.Forecast), in.Forecast)
	b.WriteString("Reply in JSON with two keys: analysis (at most 3 sentences), recommendation (1 clear sentence).")
	return b.String()
}

func parseSummary(content string) *Summary {
	content = stripCodeFence(content)
	var parsed struct {
		Analysis       any `json:"analysis"`
		Recommendation any `json:"recommendation"`
	}
	s := &Summary{}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		s.Analysis = strings.TrimSpace(stringify(parsed.Analysis))
		s.Recommendation = strings.TrimSpace(stringify(parsed.Recommendation))
	} else {
		s.Analysis = strings.TrimSpace(content)
	}
	if s.Recommendation == "" {
		s.Recommendation = defaultRecommendation
	}
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	Errors []string `json:"errors"`
}

func parseHTTPError(service string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", service, status, apiErr.Error.Message)
		}
		if apiErr.Error.Type != "" {
			return fmt.Errorf("%s api error (%d): %s", service, status, apiErr.Error.Type)
		}
		if len(apiErr.Errors) > 0 {
			return fmt.Errorf("%s api error (%d): %s", service, status, strings.Join(apiErr.Errors, "; "))
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", service, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", service, status)
}

var _ SummaryGenerator = (*Generator)(nil)
