package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewNotifierDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if n.Enabled() {
		t.Fatal("expected disabled notifier with empty credentials")
	}
}

func TestNewNotifierEnabled(t *testing.T) {
	n := NewNotifier("bot123", "chat456")
	if !n.Enabled() {
		t.Fatal("expected enabled notifier with credentials")
	}
}

func TestSendDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.Send(context.Background(), "test"); err != nil {
		t.Fatalf("disabled send should succeed silently: %v", err)
	}
}

func testServerNotifier(t *testing.T, handler http.HandlerFunc) *Notifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Notifier{
		botToken:   "test-token",
		chatID:     "test-chat",
		httpClient: server.Client(),
		enabled:    true,
		baseURL:    server.URL,
	}
}

func TestSendSuccess(t *testing.T) {
	var receivedChatID, receivedText string
	n := testServerNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		receivedChatID = r.URL.Query().Get("chat_id")
		receivedText = r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	if err := n.Send(context.Background(), "hello world"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if receivedChatID != "test-chat" {
		t.Errorf("expected chat_id=test-chat, got %s", receivedChatID)
	}
	if receivedText != "hello world" {
		t.Errorf("expected text=hello world, got %s", receivedText)
	}
}

func TestSendServerError(t *testing.T) {
	n := testServerNotifier(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"description": "bad request"})
	})

	if err := n.Send(context.Background(), "test"); err == nil {
		t.Fatal("expected error for server error response")
	}
}

func TestNotifyKillSwitchDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyKillSwitch(context.Background(), decimal.NewFromInt(-200)); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyKillSwitchSuccess(t *testing.T) {
	var receivedText string
	n := testServerNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		receivedText = r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})

	if err := n.NotifyKillSwitch(context.Background(), decimal.NewFromInt(-200)); err != nil {
		t.Fatalf("notify kill switch: %v", err)
	}
	if receivedText == "" {
		t.Error("expected non-empty text")
	}
}

func TestNotifyMarketDroppedDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyMarketDropped(context.Background(), "0xabc", "fell out of rescan"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyWSDisconnectedDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyWSDisconnected(context.Background(), "market"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyStartupDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyStartup(context.Background(), 5, true); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}
