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

	"arbwatch/internal/market"
)

// Notification is a rendered message bound for the configured channel.
type Notification struct {
	Kind    string // "opportunity" or "rate_limit"
	Source  string // pair id or venue name, for auditing
	Message string
}

// Notifier delivers notifications. Delivery failures are the caller's to log;
// they are never fatal.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// OpportunityNotification renders an opened-window signal.
func OpportunityNotification(pair market.MarketPair, kalshi, poly market.Quote, netKtoP, netPtoK decimal.Decimal, at time.Time) Notification {
	var b strings.Builder
	b.WriteString("Arbitrage opportunity\n")
	fmt.Fprintf(&b, "Pair: %s (ID: %s)\n", pair.Name, pair.ID)
	fmt.Fprintf(&b, "Kalshi %s: %s/%s\n", pair.KalshiMarketID, kalshi.Bid.StringFixed(3), kalshi.Ask.StringFixed(3))
	fmt.Fprintf(&b, "Polymarket %s: %s/%s\n", pair.PolymarketMarketID, poly.Bid.StringFixed(3), poly.Ask.StringFixed(3))
	fmt.Fprintf(&b, "Net K->P: %s | Net P->K: %s\n", netKtoP.StringFixed(4), netPtoK.StringFixed(4))
	fmt.Fprintf(&b, "Time: %s", at.UTC().Format(time.RFC3339))
	return Notification{Kind: "opportunity", Source: pair.ID, Message: b.String()}
}

// RateLimitNotification renders a rate-limit escalation alert.
func RateLimitNotification(source string, occurrences int, wait time.Duration, at time.Time) Notification {
	var b strings.Builder
	b.WriteString("Rate limit alert\n")
	fmt.Fprintf(&b, "Source: %s\n", source)
	fmt.Fprintf(&b, "Occurrences in last 30m: %d\n", occurrences)
	fmt.Fprintf(&b, "Backing off: %s\n", wait)
	fmt.Fprintf(&b, "Time: %s", at.UTC().Format(time.RFC3339))
	return Notification{Kind: "rate_limit", Source: source, Message: b.String()}
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    note.Message,
	}

	body, err := json.Marshal(payload)
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
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("kind", note.Kind).
		Str("source", note.Source).
		Msg("notification sent")
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
