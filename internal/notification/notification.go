// Package notification delivers signal, scale-out and exit alerts to chat webhooks.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifySignal   NotificationType = "signal"
	NotifyScaleOut NotificationType = "scale_out"
	NotifyExit     NotificationType = "exit"
	NotifyError    NotificationType = "error"
)

// SignalAlert is sent when a position is opened from a confirmed setup
type SignalAlert struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	Stop       float64 `json:"stop"`
	Target1    float64 `json:"target1"`
	Target2    float64 `json:"target2"`
	Confidence float64 `json:"confidence"`
	Grade      string  `json:"grade"`
}

// ScaleOutAlert is sent when half the position is taken off at target 1
type ScaleOutAlert struct {
	Symbol     string  `json:"symbol"`
	Exit       float64 `json:"exit"`
	Remaining  int     `json:"remaining"`
	PartialPnL float64 `json:"partial_pnl"`
}

// ExitAlert is sent when a position is fully closed
type ExitAlert struct {
	Symbol   string  `json:"symbol"`
	Exit     float64 `json:"exit"`
	Reason   string  `json:"reason"`
	TotalPnL float64 `json:"total_pnl"`
}

// Notification represents a rendered notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Price     float64
	PnL       float64
	Timestamp time.Time
	Payload   interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider. Delivery failures
// are logged and never returned to the trading path.
type Manager struct {
	notifiers []Notifier
	enabled   bool
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewManager creates a new notification manager
func NewManager(enabled bool, logger zerolog.Logger) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   enabled,
		timeout:   10 * time.Second,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers to all enabled providers and returns the last error
func (m *Manager) Send(ctx context.Context, notification *Notification) error {
	if !m.enabled {
		return nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var lastErr error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ctx, notification); err != nil {
			m.logger.Warn().Err(err).Str("notifier", n.Name()).Str("type", string(notification.Type)).Msg("Notification delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

func arrow(direction string) string {
	if direction == "bear" {
		return "🔴"
	}
	return "🟢"
}

// Signal sends a new-position alert
func (m *Manager) Signal(ctx context.Context, a SignalAlert) {
	_ = m.Send(ctx, &Notification{
		Type:  NotifySignal,
		Title: fmt.Sprintf("%s %s %s signal (%s)", arrow(a.Direction), a.Symbol, a.Direction, a.Grade),
		Message: fmt.Sprintf("Entry: %.2f\nStop: %.2f\nT1: %.2f | T2: %.2f\nConfidence: %.0f%%",
			a.Entry, a.Stop, a.Target1, a.Target2, a.Confidence*100),
		Symbol:  a.Symbol,
		Price:   a.Entry,
		Payload: a,
	})
}

// ScaleOut sends a partial-exit alert
func (m *Manager) ScaleOut(ctx context.Context, a ScaleOutAlert) {
	_ = m.Send(ctx, &Notification{
		Type:    NotifyScaleOut,
		Title:   fmt.Sprintf("🎯 %s target 1 hit", a.Symbol),
		Message: fmt.Sprintf("Scaled out @ %.2f\nRemaining: %d\nPartial P&L: $%.2f\nStop moved to breakeven", a.Exit, a.Remaining, a.PartialPnL),
		Symbol:  a.Symbol,
		Price:   a.Exit,
		PnL:     a.PartialPnL,
		Payload: a,
	})
}

// Exit sends a full-exit alert
func (m *Manager) Exit(ctx context.Context, a ExitAlert) {
	emoji := "✅"
	if a.TotalPnL < 0 {
		emoji = "❌"
	}
	_ = m.Send(ctx, &Notification{
		Type:    NotifyExit,
		Title:   fmt.Sprintf("%s %s closed (%s)", emoji, a.Symbol, a.Reason),
		Message: fmt.Sprintf("Exit @ %.2f\nTotal P&L: $%.2f", a.Exit, a.TotalPnL),
		Symbol:  a.Symbol,
		Price:   a.Exit,
		PnL:     a.TotalPnL,
		Payload: a,
	})
}

// Error sends an operational error alert
func (m *Manager) Error(ctx context.Context, title, message string) {
	_ = m.Send(ctx, &Notification{
		Type:    NotifyError,
		Title:   "⚠️ " + title,
		Message: message,
	})
}
