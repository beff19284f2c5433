package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	intervals map[string]time.Duration // map[scheduleID]interval
	args      map[string]interface{}
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		intervals: make(map[string]time.Duration),
		args:      make(map[string]interface{}),
	}
}

// UpsertRecordSchedule records the snapshot schedule.
func (m *MockScheduler) UpsertRecordSchedule(ctx context.Context, interval time.Duration, input RecordSnapshotWorkflowInput) error {
	return m.upsert(RecordScheduleID, interval, input)
}

// UpsertAnalyzeSchedule records the analysis schedule.
func (m *MockScheduler) UpsertAnalyzeSchedule(ctx context.Context, interval time.Duration, input AnalyzeWorkflowInput) error {
	return m.upsert(AnalyzeScheduleID, interval, input)
}

func (m *MockScheduler) upsert(id string, interval time.Duration, arg interface{}) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.intervals[id] = interval // Creates or updates
	m.args[id] = arg
	return nil
}

// DeleteSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteSchedule(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intervals[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.intervals, id)
	delete(m.args, id)
	return nil
}

// SetUpsertError makes both upsert methods return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.upsertErr = err
}

// SetDeleteError makes DeleteSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// ScheduleExists checks if a schedule exists.
func (m *MockScheduler) ScheduleExists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.intervals[id]
	return exists
}

// GetScheduleInterval returns the interval for a schedule.
func (m *MockScheduler) GetScheduleInterval(id string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	interval, exists := m.intervals[id]
	return interval, exists
}

// GetScheduleArgs returns the workflow input stored for a schedule.
func (m *MockScheduler) GetScheduleArgs(id string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	arg, exists := m.args[id]
	return arg, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.intervals)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intervals = make(map[string]time.Duration)
	m.args = make(map[string]interface{})
	m.upsertErr = nil
	m.deleteErr = nil
}
