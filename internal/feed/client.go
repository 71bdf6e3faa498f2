package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/metrics"
)

// TickSink receives parsed trades
type TickSink interface {
	IngestTick(symbol string, price, size float64, timestampMs int64) IngestResult
}

// ClientConfig configures the trade stream connection
type ClientConfig struct {
	URL                    string
	APIKey                 string
	MaxSymbolsPerSubscribe int
	ReconnectDelay         time.Duration
	DialTimeout            time.Duration
	ReadTimeout            time.Duration // 0 disables the read deadline
}

// ErrNotConnected is returned when a frame is written with no live connection
var ErrNotConnected = errors.New("feed not connected")

// Client is a supervised websocket connection to the trade stream
type Client struct {
	config ClientConfig
	subs   *SubscriptionManager
	sink   TickSink
	bus    events.Publisher
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	reconnects int

	writeMu sync.Mutex // serializes frames on conn
	subMu   sync.Mutex // one pending-subscribe pass at a time
}

// NewClient creates a feed client. Symbols in subs are sent on first connect.
func NewClient(cfg ClientConfig, subs *SubscriptionManager, sink TickSink, bus events.Publisher, logger zerolog.Logger) *Client {
	if cfg.MaxSymbolsPerSubscribe <= 0 {
		cfg.MaxSymbolsPerSubscribe = 50
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if subs == nil {
		subs = NewSubscriptionManager()
	}
	if bus == nil {
		bus = events.Discard
	}
	return &Client{
		config: cfg,
		subs:   subs,
		sink:   sink,
		bus:    bus,
		logger: logger.With().Str("component", "FeedClient").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

// IsConnected reports whether a connection is live
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and keeps the connection alive until ctx is cancelled.
// Every disconnect is followed by a fixed delay and a full resubscribe.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		c.reconnects++
		attempt := c.reconnects
		c.mu.Unlock()

		metrics.FeedReconnects.Inc()
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", c.config.ReconnectDelay).
			Msg("Feed disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.config.ReconnectDelay):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.config.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}

	// The new connection has been sent nothing yet.
	c.subs.Reset()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	metrics.FeedConnected.Set(1)

	done := make(chan struct{})
	defer func() {
		close(done)
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		metrics.FeedConnected.Set(0)
		conn.Close()
		c.bus.Publish(events.Event{Type: events.EventFeedDisconnected})
	}()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if c.config.APIKey != "" {
		if err := c.writeJSON(conn, authMessage{Action: "auth", Key: c.config.APIKey}); err != nil {
			return fmt.Errorf("send auth: %w", err)
		}
	}

	c.logger.Info().Int("symbols", len(c.subs.All())).Msg("Feed connected")
	c.bus.Publish(events.Event{Type: events.EventFeedConnected})

	if err := c.subscribePending(); err != nil {
		return err
	}

	return c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		if c.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("feed closed: %w", err)
			}
			return fmt.Errorf("read feed: %w", err)
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug().Err(err).Bytes("payload", data).Msg("Unparseable feed message")
		return
	}

	if !msg.isTick() {
		c.logger.Info().
			Int("status_code", msg.StatusCode).
			Str("message", msg.Message).
			Msg("Feed status message")
		return
	}

	if c.sink != nil {
		c.sink.IngestTick(NormalizeSymbol(msg.Symbol), float64(msg.Price), float64(msg.Size), int64(msg.Timestamp))
	}
}

// AddSymbols adds symbols to the master set. When connected only the new ones
// are subscribed right away; otherwise they go out on the next connect.
func (c *Client) AddSymbols(symbols ...string) []string {
	added := c.subs.Add(symbols...)
	if len(added) == 0 {
		return nil
	}

	c.bus.Publish(events.Event{
		Type: events.EventSymbolsAdded,
		Data: map[string]interface{}{"symbols": added},
	})

	if c.IsConnected() {
		if err := c.subscribePending(); err != nil {
			c.logger.Warn().Err(err).Strs("symbols", added).Msg("Subscribe failed, will resend on reconnect")
		}
	}
	return added
}

// subscribePending sends every master symbol the live connection has not seen,
// in chunks of at most MaxSymbolsPerSubscribe.
func (c *Client) subscribePending() error {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	pending := c.subs.Pending()
	for _, chunk := range Chunk(pending, c.config.MaxSymbolsPerSubscribe) {
		if err := c.writeJSON(conn, newSubscribeMessage(chunk)); err != nil {
			c.subs.MarkFailed()
			return fmt.Errorf("subscribe %d symbols: %w", len(chunk), err)
		}
		c.subs.MarkSubscribed(chunk)
		c.logger.Info().Strs("symbols", chunk).Msg("Subscribed")
	}
	return nil
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}
