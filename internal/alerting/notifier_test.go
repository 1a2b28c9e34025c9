package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNotification() Notification {
	return Notification{
		RunID:         "run-1",
		GeneratedAt:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		ProductID:     "iphone15",
		ProductName:   "iPhone 15 128GB",
		Platform:      "Shopee",
		LastPrice:     decimal.NewFromInt(20000000),
		ForecastPrice: decimal.NewFromInt(21200000),
		ChangePct:     decimal.NewFromFloat(6),
		ThresholdPct:  decimal.NewFromFloat(5),
		HorizonDays:   7,
		Direction:     "up",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL+"/", time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"iPhone 15 128GB (Shopee)", "Forecast in 7 days: 21200000", "Change: 6.00% (threshold 5.00%)", "Direction: up"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestRenderMessageFallsBackToProductID(t *testing.T) {
	note := sampleNotification()
	note.ProductName = ""
	note.Note = "extra"
	msg := renderMessage(note)
	if !strings.Contains(msg, "Product: iphone15 (Shopee)") || !strings.HasSuffix(msg, "extra") {
		t.Fatalf("unexpected message:\n%s", msg)
	}
}
