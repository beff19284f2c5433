package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// UpsertRecordSchedule creates or updates the snapshot recording schedule.
func (c *Client) UpsertRecordSchedule(ctx context.Context, interval time.Duration, input RecordSnapshotWorkflowInput) error {
	return c.upsertSchedule(ctx, RecordScheduleID, "RecordSnapshotWorkflow", interval, input, map[string]interface{}{
		"gossip_dir": input.GossipDir,
		"created_by": "sybilwatch",
	})
}

// UpsertAnalyzeSchedule creates or updates the analysis schedule.
func (c *Client) UpsertAnalyzeSchedule(ctx context.Context, interval time.Duration, input AnalyzeWorkflowInput) error {
	return c.upsertSchedule(ctx, AnalyzeScheduleID, "AnalyzeWorkflow", interval, input, map[string]interface{}{
		"gossip_dir":  input.Inputs.GossipDir,
		"output_file": input.OutputFile,
		"created_by":  "sybilwatch",
	})
}

// upsertSchedule creates the schedule if it does not exist. Otherwise it
// replaces the interval and the workflow arguments.
func (c *Client) upsertSchedule(ctx context.Context, id, workflowName string, interval time.Duration, arg interface{}, memo map[string]interface{}) error {
	action := &client.ScheduleWorkflowAction{
		ID:        workflowID(id),
		Workflow:  workflowName,
		TaskQueue: c.taskQueue,
		Args:      []interface{}{arg},
	}

	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one",
			"schedule_id", id,
			"error", err,
		)

		_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
			},
			Action: action,
			Memo:   memo,
		})
		if err != nil {
			c.logger.Error("failed to create schedule", "schedule_id", id, "error", err)
			return fmt.Errorf("failed to create schedule %q: %w", id, err)
		}

		c.logger.Info("schedule created", "schedule_id", id, "workflow", workflowName, "interval", interval)
		return nil
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			input.Description.Schedule.Action = action
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", id, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", id, err)
	}

	c.logger.Info("schedule updated", "schedule_id", id, "workflow", workflowName, "interval", interval)
	return nil
}

// DeleteSchedule deletes the Temporal schedule with the given ID.
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, id)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "schedule_id", id, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", id, err)
	}

	c.logger.Info("schedule deleted", "schedule_id", id)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}
