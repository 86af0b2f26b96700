package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	trades       []*TradeEvent
	stats        []*StatsEvent
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishTrade records the event and returns any configured error.
func (m *MockPublisher) PublishTrade(ctx context.Context, event *TradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.trades = append(m.trades, event)
	return nil
}

// PublishStatsEvent records the event and returns any configured error.
func (m *MockPublisher) PublishStatsEvent(ctx context.Context, event *StatsEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}
	m.stats = append(m.stats, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedTrades returns a copy of all published trade events.
func (m *MockPublisher) GetPublishedTrades() []*TradeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*TradeEvent, len(m.trades))
	copy(events, m.trades)
	return events
}

// GetPublishedStats returns a copy of all published stats events.
func (m *MockPublisher) GetPublishedStats() []*StatsEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*StatsEvent, len(m.stats))
	copy(events, m.stats)
	return events
}

// GetPublishedTradesForMaster returns trade events published for master.
func (m *MockPublisher) GetPublishedTradesForMaster(master string) []*TradeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*TradeEvent
	for _, event := range m.trades {
		if event.MasterWallet == master {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to fail every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = nil
	m.stats = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
