package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type captured struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]interface{}
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.bodies = append(c.bodies, body)
		c.mu.Unlock()
		w.WriteHeader(status)
	}
}

// TestDiscordSignal tests that a signal alert reaches the Discord webhook as an embed
func TestDiscordSignal(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusNoContent))
	defer srv.Close()

	m := NewManager(true, zerolog.Nop())
	m.AddNotifier(NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true}))

	m.Signal(context.Background(), SignalAlert{
		Symbol: "AAPL", Direction: "bull", Entry: 100.55, Stop: 100.36,
		Target1: 100.84, Target2: 101.03, Confidence: 0.85, Grade: "A+",
	})

	if len(c.bodies) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(c.bodies))
	}
	embeds, ok := c.bodies[0]["embeds"].([]interface{})
	if !ok || len(embeds) != 1 {
		t.Fatalf("Expected one embed, got %v", c.bodies[0])
	}
	title := embeds[0].(map[string]interface{})["title"].(string)
	if !strings.Contains(title, "AAPL") || !strings.Contains(title, "A+") {
		t.Errorf("Unexpected title %q", title)
	}
}

// TestTelegramExit tests the Telegram sendMessage path and text
func TestTelegramExit(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	m := NewManager(true, zerolog.Nop())
	m.AddNotifier(NewTelegramNotifier(TelegramConfig{BotToken: "tok", ChatID: "42", Enabled: true, BaseURL: srv.URL}))

	m.Exit(context.Background(), ExitAlert{Symbol: "MSFT", Exit: 410.5, Reason: "target-2", TotalPnL: 250})

	if len(c.paths) != 1 || c.paths[0] != "/bottok/sendMessage" {
		t.Fatalf("Unexpected paths %v", c.paths)
	}
	text, _ := c.bodies[0]["text"].(string)
	if !strings.Contains(text, "MSFT") || !strings.Contains(text, "target-2") {
		t.Errorf("Unexpected text %q", text)
	}
	if c.bodies[0]["chat_id"] != "42" {
		t.Errorf("Expected chat_id 42, got %v", c.bodies[0]["chat_id"])
	}
}

// TestDeliveryFailureIsReturnedNotPanicked tests that a failing webhook only yields an error
func TestDeliveryFailureIsReturnedNotPanicked(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusInternalServerError))
	defer srv.Close()

	m := NewManager(true, zerolog.Nop())
	m.AddNotifier(NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true}))

	err := m.Send(context.Background(), &Notification{Type: NotifyError, Title: "x"})
	if err == nil {
		t.Error("Expected error for 500 response")
	}

	// alert helpers swallow the error
	m.ScaleOut(context.Background(), ScaleOutAlert{Symbol: "AAPL", Exit: 1, Remaining: 5, PartialPnL: 10})
}

// TestDisabledManager tests that a disabled manager sends nothing
func TestDisabledManager(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	m := NewManager(false, zerolog.Nop())
	m.AddNotifier(NewDiscordNotifier(DiscordConfig{WebhookURL: srv.URL, Enabled: true}))
	m.Exit(context.Background(), ExitAlert{Symbol: "AAPL"})

	if len(c.bodies) != 0 {
		t.Errorf("Expected no requests, got %d", len(c.bodies))
	}
}
