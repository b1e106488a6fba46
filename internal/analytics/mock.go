package analytics

import (
	"context"
	"sync"
)

var _ AnalyticsService = (*MockAnalytics)(nil)

// MockAnalytics records selection events in memory for tests.
type MockAnalytics struct {
	mu     sync.Mutex
	events []SelectionEvent
	// Err, when set, is returned by RecordSelection instead of recording.
	Err error
}

// NewMockAnalytics creates a new mock analytics instance
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordSelection stores ev.
func (m *MockAnalytics) RecordSelection(_ context.Context, ev SelectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (m *MockAnalytics) Events() []SelectionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SelectionEvent, len(m.events))
	copy(out, m.events)
	return out
}
