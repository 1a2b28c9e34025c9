package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-forecast/internal/logging"
)

// Notification describes a forecast whose expected move crossed the threshold.
type Notification struct {
	RunID         string
	GeneratedAt   time.Time
	ProductID     string
	ProductName   string
	Platform      string
	LastPrice     decimal.Decimal
	ForecastPrice decimal.Decimal
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	HorizonDays   int
	Direction     string
	Channels      []string
	Note          string
}

// Notifier delivers notifications to an external channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts notifications through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a notifier for one chat.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logging.Component(logger, "alert_telegram"),
	}
}

// Notify calls sendMessage with a plain-text rendering of note.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}

	n.logger.Info().
		Str("product_id", note.ProductID).
		Str("platform", note.Platform).
		Str("direction", note.Direction).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Msg("forecast alert sent")
	return nil
}

func renderMessage(note Notification) string {
	name := note.ProductName
	if name == "" {
		name = note.ProductID
	}

	var b strings.Builder
	b.WriteString("[Price Forecast Alert]\n")
	fmt.Fprintf(&b, "Product: %s (%s)\n", name, note.Platform)
	fmt.Fprintf(&b, "Generated: %s UTC\n", note.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Last price: %s\n", note.LastPrice.StringFixed(0))
	fmt.Fprintf(&b, "Forecast in %d days: %s\n", note.HorizonDays, note.ForecastPrice.StringFixed(0))
	fmt.Fprintf(&b, "Change: %s%% (threshold %s%%)\n", note.ChangePct.StringFixed(2), note.ThresholdPct.StringFixed(2))
	fmt.Fprintf(&b, "Direction: %s\n", note.Direction)
	if note.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", note.RunID)
	}
	if len(note.Channels) > 0 {
		fmt.Fprintf(&b, "Channels: %s\n", strings.Join(note.Channels, ","))
	}
	if note.Note != "" {
		b.WriteString(note.Note)
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
