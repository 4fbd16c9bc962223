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

	"arbwatch/internal/market"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	note := RateLimitNotification("kalshi", 3, 2*time.Minute, time.Now())

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id = %#v", received)
	}
	if !strings.Contains(received["text"], "kalshi") {
		t.Fatalf("message should mention the source: %q", received["text"])
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), Notification{Kind: "opportunity", Message: "x"}); err == nil {
		t.Fatal("ok=false must be an error")
	}
}

func TestOpportunityNotificationRendering(t *testing.T) {
	pair := market.MarketPair{ID: "p1", Name: "Test Pair", KalshiMarketID: "KX-1", PolymarketMarketID: "501"}
	kalshi := market.Quote{Bid: decimal.NewFromFloat(0.40), Ask: decimal.NewFromFloat(0.42)}
	poly := market.Quote{Bid: decimal.NewFromFloat(0.50), Ask: decimal.NewFromFloat(0.52)}

	note := OpportunityNotification(pair, kalshi, poly,
		decimal.NewFromFloat(0.05), decimal.NewFromFloat(-0.15),
		time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	if note.Kind != "opportunity" || note.Source != "p1" {
		t.Fatalf("unexpected envelope: %+v", note)
	}
	for _, want := range []string{"Test Pair", "0.400/0.420", "0.500/0.520", "0.0500", "-0.1500", "2025-06-01T12:00:00Z"} {
		if !strings.Contains(note.Message, want) {
			t.Fatalf("message missing %q:\n%s", want, note.Message)
		}
	}
}
