package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/brojonat/sybilwatch/service/config"
	"github.com/brojonat/sybilwatch/service/temporal"
	"github.com/urfave/cli/v2"
)

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Create or update the Temporal schedules for recording and analysis",
		Description: `Installs two schedules on the configured task queue. The record schedule
captures a gossip snapshot every --record-interval; the analyze schedule runs
the analysis every --analyze-interval and saves and publishes the report.
Run cmd/worker to execute them.`,
		Flags: append(inputFlags(),
			&cli.DurationFlag{
				Name:    "record-interval",
				Usage:   "How often to record a gossip snapshot",
				EnvVars: []string{"RECORD_INTERVAL"},
				Value:   10 * time.Minute,
			},
			&cli.DurationFlag{
				Name:    "analyze-interval",
				Usage:   "How often to run the analysis",
				EnvVars: []string{"ANALYZE_INTERVAL"},
				Value:   6 * time.Hour,
			},
			&cli.BoolFlag{
				Name:    "refresh-validators",
				Usage:   "Refresh the active validator list before each analysis",
				EnvVars: []string{"REFRESH_VALIDATORS"},
			},
			&cli.BoolFlag{
				Name:  "delete",
				Usage: "Delete both schedules instead of installing them",
			},
		),
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			cfg := configFromFlags(c)

			if !c.Bool("delete") {
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			client, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if c.Bool("delete") {
				return removeSchedules(c.Context, client, c.App.Writer)
			}
			return installSchedules(c.Context, client, cfg, c.App.Writer)
		},
	}
}

// installSchedules upserts the record and analyze schedules from cfg.
func installSchedules(ctx context.Context, s temporal.Scheduler, cfg *config.Config, w io.Writer) error {
	record := temporal.RecordSnapshotWorkflowInput{GossipDir: cfg.GossipDir}
	if err := s.UpsertRecordSchedule(ctx, cfg.RecordInterval, record); err != nil {
		return err
	}
	fmt.Fprintf(w, "Schedule %s: every %s\n", temporal.RecordScheduleID, cfg.RecordInterval)

	analyze := temporal.AnalyzeWorkflowInput{
		Inputs:            cfg.AnalyzerInputs(),
		OutputFile:        cfg.OutputFile,
		RefreshValidators: cfg.RefreshValidators,
	}
	if err := s.UpsertAnalyzeSchedule(ctx, cfg.AnalyzeInterval, analyze); err != nil {
		return err
	}
	fmt.Fprintf(w, "Schedule %s: every %s\n", temporal.AnalyzeScheduleID, cfg.AnalyzeInterval)
	return nil
}

// removeSchedules deletes both schedules, attempting each even if the first fails.
func removeSchedules(ctx context.Context, s temporal.Scheduler, w io.Writer) error {
	var errs []error
	for _, id := range []string{temporal.RecordScheduleID, temporal.AnalyzeScheduleID} {
		if err := s.DeleteSchedule(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "Deleted schedule %s\n", id)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to delete schedules: %v", errs)
	}
	return nil
}
