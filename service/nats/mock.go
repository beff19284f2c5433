package nats

import (
	"context"
	"sync"

	"github.com/brojonat/sybilwatch/service/sybil"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*ClusterEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*ClusterEvent, 0),
	}
}

// PublishCluster records the event and returns any configured error.
func (m *MockPublisher) PublishCluster(ctx context.Context, event *ClusterEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// PublishReport records one event per cluster and returns any configured error.
func (m *MockPublisher) PublishReport(ctx context.Context, runID int64, report *sybil.Report) (int, error) {
	events := EventsFromReport(runID, report)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return 0, m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, events...)
	return len(events), nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*ClusterEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*ClusterEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventCount returns the number of published events.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// SetPublishError configures the mock to return an error on every publish.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
