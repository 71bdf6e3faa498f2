package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"sniper-trading-bot/internal/auth"
	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/confluence"
	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/logging"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/positions"
	"sniper-trading-bot/internal/scanner"
)

type fakeBot struct {
	mu      sync.Mutex
	symbols []string
	open    []positions.Position
	resets  int
	unwell  error
}

func (b *fakeBot) Status() map[string]interface{} {
	return map[string]interface{}{"running": true}
}

func (b *fakeBot) OpenPositions() []positions.Position { return b.open }

func (b *fakeBot) ClosedPositions() []positions.Position { return nil }

func (b *fakeBot) ArmedSetups() []confirmation.ArmedSetup {
	return []confirmation.ArmedSetup{{ID: "s1", Symbol: "AAPL", Direction: market.Bull, Status: confirmation.StatusWaiting}}
}

func (b *fakeBot) RecentSignals() []scanner.SignalResult { return nil }

func (b *fakeBot) RecentTrades(ctx context.Context, limit int) ([]positions.TradeRecord, error) {
	return nil, fmt.Errorf("database disabled")
}

func (b *fakeBot) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.symbols...)
}

func (b *fakeBot) AddSymbols(symbols ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols = append(b.symbols, symbols...)
	return symbols
}

func (b *fakeBot) ClosePosition(ctx context.Context, id string) (positions.Position, error) {
	for _, p := range b.open {
		if p.ID == id {
			p.Status = positions.StatusClosed
			return p, nil
		}
	}
	return positions.Position{}, fmt.Errorf("close %s: %w", id, positions.ErrPositionNotFound)
}

func (b *fakeBot) ResetCircuit() map[string]interface{} {
	b.resets++
	return map[string]interface{}{"state": "closed"}
}

func (b *fakeBot) Health(ctx context.Context) error { return b.unwell }

type fakeAnalytics struct {
	symbol string
	bundle confluence.Analytics
}

func (f *fakeAnalytics) Publish(ctx context.Context, symbol string, a confluence.Analytics, ttl time.Duration) error {
	f.symbol, f.bundle = symbol, a
	return nil
}

func newTestServer(t *testing.T, bus *events.EventBus) (*Server, *fakeBot, *fakeAnalytics, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := auth.HashPassword("secret-pass", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	svc := auth.NewService(auth.NewJWTManager("jwt-secret", time.Hour), "admin", hash, logging.Nop())
	pair, err := svc.Login("admin", "secret-pass")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	bot := &fakeBot{
		symbols: []string{"AAPL"},
		open:    []positions.Position{{ID: "p1", Symbol: "AAPL", Status: positions.StatusOpen}},
	}
	analytics := &fakeAnalytics{}
	s := NewServer(ServerConfig{}, bot, bus, svc, analytics, logging.Nop())
	t.Cleanup(func() { s.hub.Close() })
	return s, bot, analytics, pair.AccessToken
}

func do(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// TestPublicEndpoints tests the read-only routes
func TestPublicEndpoints(t *testing.T) {
	s, _, _, _ := newTestServer(t, nil)

	for _, path := range []string{"/health", "/api/status", "/api/positions", "/api/setups", "/api/symbols", "/api/signals"} {
		if w := do(s, http.MethodGet, path, "", ""); w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
	}

	w := do(s, http.MethodGet, "/api/setups", "", "")
	var body struct {
		Data []confirmation.ArmedSetup `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode setups: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != "s1" {
		t.Errorf("Expected setup s1, got %+v", body.Data)
	}

	if w := do(s, http.MethodGet, "/api/trades", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for trades without a database, got %d", w.Code)
	}
}

// TestAdminEndpointsRequireToken tests JWT protection on mutations
func TestAdminEndpointsRequireToken(t *testing.T) {
	s, bot, _, token := newTestServer(t, nil)

	if w := do(s, http.MethodPost, "/api/symbols", "", `{"symbols":["msft"]}`); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	w := do(s, http.MethodPost, "/api/symbols", token, `{"symbols":[" msft ","nvda.us",""]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := strings.Join(bot.Symbols(), ",")
	if got != "AAPL,MSFT,NVDA" {
		t.Errorf("Expected AAPL,MSFT,NVDA, got %s", got)
	}

	if w := do(s, http.MethodPost, "/api/positions/p1/close", token, ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 closing p1, got %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/positions/nope/close", token, ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown position, got %d", w.Code)
	}
}

// TestCircuitResetAndHealth tests the breaker reset endpoint and degraded health
func TestCircuitResetAndHealth(t *testing.T) {
	s, bot, _, token := newTestServer(t, nil)

	if w := do(s, http.MethodPost, "/api/circuit/reset", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
	if w := do(s, http.MethodPost, "/api/circuit/reset", token, ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if bot.resets != 1 {
		t.Errorf("Expected 1 reset, got %d", bot.resets)
	}

	bot.unwell = errors.New("postgres: connection refused")
	if w := do(s, http.MethodGet, "/health", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when a store is down, got %d", w.Code)
	}
}

// TestLoginEndpoint tests login through the API with rate limiting
func TestLoginEndpoint(t *testing.T) {
	s, _, _, _ := newTestServer(t, nil)

	w := do(s, http.MethodPost, "/api/auth/login", "", `{"username":"admin","password":"secret-pass"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil || pair.AccessToken == "" {
		t.Fatalf("Expected a token, got %s (%v)", w.Body.String(), err)
	}

	last := 0
	for i := 0; i < 12; i++ {
		last = do(s, http.MethodPost, "/api/auth/login", "", `{"username":"admin","password":"wrong"}`).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after repeated attempts, got %d", last)
	}
}

// TestPublishAnalytics tests storing an analytics bundle for the enrichers
func TestPublishAnalytics(t *testing.T) {
	s, _, analytics, token := newTestServer(t, nil)

	w := do(s, http.MethodPost, "/api/analytics/aapl", token, `{"iv_rank":15,"uoa":{"call_score":1.2,"put_score":0}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if analytics.symbol != "AAPL" {
		t.Errorf("Expected AAPL, got %s", analytics.symbol)
	}
	if analytics.bundle.IVRank == nil || *analytics.bundle.IVRank != 15 {
		t.Errorf("Expected IV rank 15, got %v", analytics.bundle.IVRank)
	}
	if analytics.bundle.UOA == nil || analytics.bundle.UOA.CallScore != 1.2 {
		t.Errorf("Expected call score 1.2, got %+v", analytics.bundle.UOA)
	}
}

// TestRateLimiter tests the sliding window
func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Expected first two requests allowed")
	}
	if rl.Allow("a") {
		t.Error("Expected third request rejected")
	}
	if !rl.Allow("b") {
		t.Error("Keys must be limited independently")
	}
}

// TestWebSocketStreamsEvents tests that bus events reach websocket clients
func TestWebSocketStreamsEvents(t *testing.T) {
	bus := events.NewSyncEventBus()
	s, _, _, _ := newTestServer(t, bus)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]interface{}
	if err := conn.ReadJSON(&hello); err != nil || hello["type"] != "CONNECTED" {
		t.Fatalf("Expected CONNECTED greeting, got %v (%v)", hello, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	events.PublishSetupArmed(bus, "s1", "AAPL", "bull", 100.4, 100.6)

	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if ev.Type != events.EventSetupArmed {
		t.Errorf("Expected %s, got %s", events.EventSetupArmed, ev.Type)
	}
	if ev.Data["symbol"] != "AAPL" {
		t.Errorf("Expected AAPL, got %v", ev.Data["symbol"])
	}
}
