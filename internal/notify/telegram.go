// Package notify sends operator alerts to Telegram for events that need a
// human in the loop. The portfolio controller sends a startup alert, a
// kill-switch alert, and a market-dropped alert when a rescan removes a
// market. NotifyWSDisconnected is available but nothing in the bot calls
// it, so WebSocket disconnects raise no alert. Grounded
// on the Telegram notifier pattern used elsewhere in the pack.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to the Telegram API
}

// NewNotifier creates a Notifier. Notifications are silently no-ops unless
// both botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier will actually send anything.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyKillSwitch alerts that the portfolio kill switch tripped and every
// market's orders are being cancelled.
func (n *Notifier) NotifyKillSwitch(ctx context.Context, totalUnrealizedPnL decimal.Decimal) error {
	msg := fmt.Sprintf(
		"<b>KILL SWITCH TRIGGERED</b>\nPortfolio unrealized PnL: %s USDC\nAll markets' orders cancelled. Restart required to resume.",
		totalUnrealizedPnL.StringFixed(2))
	return n.Send(ctx, msg)
}

// NotifyMarketDropped alerts that a market was removed from the active set
// at rescan.
func (n *Notifier) NotifyMarketDropped(ctx context.Context, conditionID, reason string) error {
	msg := fmt.Sprintf("<b>Market Dropped</b>\nCondition ID: <code>%s</code>\nReason: %s", conditionID, reason)
	return n.Send(ctx, msg)
}

// NotifyWSDisconnected alerts on a sustained WebSocket disconnect so the
// operator knows the bot has fallen back to REST polling.
func (n *Notifier) NotifyWSDisconnected(ctx context.Context, feed string) error {
	msg := fmt.Sprintf("<b>WebSocket Disconnected</b>\nFeed: %s\nFalling back to REST polling.", feed)
	return n.Send(ctx, msg)
}

// NotifyStartup alerts that the bot has started a trading session, live or
// dry-run; the message names the mode.
func (n *Notifier) NotifyStartup(ctx context.Context, marketCount int, dryRun bool) error {
	mode := "LIVE"
	if dryRun {
		mode = "DRY-RUN"
	}
	msg := fmt.Sprintf("<b>Bot Started</b>\nMode: %s\nMarkets: %d", mode, marketCount)
	return n.Send(ctx, msg)
}
