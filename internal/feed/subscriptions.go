package feed

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// SubscriptionStats tracks subscription statistics
type SubscriptionStats struct {
	TotalSymbols         int       `json:"total_symbols"`
	Subscribed           int       `json:"subscribed"`
	Pending              int       `json:"pending"`
	Resets               int64     `json:"resets"`
	SubscriptionFailures int64     `json:"subscription_failures"`
	LastSubscribeTime    time.Time `json:"last_subscribe_time"`
}

// SubscriptionManager owns the master symbol set (seed plus runtime additions)
// and which of those the current connection has already been sent.
type SubscriptionManager struct {
	mu sync.RWMutex

	master     map[string]bool
	subscribed map[string]bool

	resets            int64
	failures          int64
	lastSubscribeTime time.Time
}

// NewSubscriptionManager creates a manager seeded with the initial symbols
func NewSubscriptionManager(seed ...string) *SubscriptionManager {
	m := &SubscriptionManager{
		master:     make(map[string]bool),
		subscribed: make(map[string]bool),
	}
	m.Add(seed...)
	return m
}

// NormalizeSymbol upper-cases and strips the exchange suffix
func NormalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return strings.TrimSuffix(symbol, ".US")
}

// Add merges symbols into the master set and returns the ones that were new
func (m *SubscriptionManager) Add(symbols ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var added []string
	for _, s := range symbols {
		s = NormalizeSymbol(s)
		if s == "" || m.master[s] {
			continue
		}
		m.master[s] = true
		added = append(added, s)
	}
	sort.Strings(added)
	return added
}

// Pending returns master symbols not yet sent on the current connection
func (m *SubscriptionManager) Pending() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for s := range m.master {
		if !m.subscribed[s] {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// MarkSubscribed records symbols as sent on the current connection
func (m *SubscriptionManager) MarkSubscribed(symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range symbols {
		m.subscribed[s] = true
	}
	m.lastSubscribeTime = time.Now()
}

// MarkFailed counts a failed subscribe frame
func (m *SubscriptionManager) MarkFailed() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

// Reset forgets what the previous connection was sent; the master set is kept
func (m *SubscriptionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribed = make(map[string]bool)
	m.resets++
}

// All returns the master set, sorted
func (m *SubscriptionManager) All() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.master))
	for s := range m.master {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Stats returns subscription statistics
func (m *SubscriptionManager) Stats() SubscriptionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return SubscriptionStats{
		TotalSymbols:         len(m.master),
		Subscribed:           len(m.subscribed),
		Pending:              len(m.master) - len(m.subscribed),
		Resets:               m.resets,
		SubscriptionFailures: m.failures,
		LastSubscribeTime:    m.lastSubscribeTime,
	}
}

// Chunk splits symbols into groups of at most max
func Chunk(symbols []string, max int) [][]string {
	if max <= 0 {
		max = len(symbols)
	}
	var chunks [][]string
	for len(symbols) > 0 {
		n := max
		if n > len(symbols) {
			n = len(symbols)
		}
		chunks = append(chunks, symbols[:n:n])
		symbols = symbols[n:]
	}
	return chunks
}
