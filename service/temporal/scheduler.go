package temporal

import (
	"context"
	"time"
)

// Schedule IDs for the two recurring workflows.
const (
	RecordScheduleID  = "sybil-record-snapshot"
	AnalyzeScheduleID = "sybil-analyze"
)

// Scheduler manages the Temporal schedules that drive snapshot recording and
// periodic analysis.
type Scheduler interface {
	// UpsertRecordSchedule creates or updates the schedule that triggers
	// RecordSnapshotWorkflow on the given interval.
	UpsertRecordSchedule(ctx context.Context, interval time.Duration, input RecordSnapshotWorkflowInput) error

	// UpsertAnalyzeSchedule creates or updates the schedule that triggers
	// AnalyzeWorkflow on the given interval.
	UpsertAnalyzeSchedule(ctx context.Context, interval time.Duration, input AnalyzeWorkflowInput) error

	// DeleteSchedule deletes a schedule by ID.
	DeleteSchedule(ctx context.Context, id string) error
}

// workflowID returns the ID given to workflows started by a schedule.
func workflowID(scheduleID string) string {
	return scheduleID + "-run"
}
