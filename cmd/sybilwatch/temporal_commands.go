package main

import (
	"fmt"
	"io"
	"time"

	"github.com/brojonat/sybilwatch/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func schedulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedules",
		Usage: "Inspect, pause and resume the installed schedules",
		Description: `Without arguments each subcommand acts on both sybilwatch schedules
(sybil-record-snapshot and sybil-analyze). Pass schedule IDs to narrow it.`,
		Subcommands: []*cli.Command{
			describeSchedulesCommand(),
			pauseSchedulesCommand(),
			resumeSchedulesCommand(),
		},
	}
}

// scheduleIDs returns the IDs named on the command line, or both schedules.
func scheduleIDs(args cli.Args) []string {
	if args.Len() > 0 {
		return args.Slice()
	}
	return []string{temporal.RecordScheduleID, temporal.AnalyzeScheduleID}
}

func dialTemporal(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		newLogger(c),
	)
}

func describeSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Aliases:   []string{"desc"},
		Usage:     "Show the interval, state and recent runs of each schedule",
		ArgsUsage: "[schedule-id...]",
		Action: func(c *cli.Context) error {
			tc, err := dialTemporal(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			for _, id := range scheduleIDs(c.Args()) {
				desc, err := tc.SDKClient().ScheduleClient().GetHandle(c.Context, id).Describe(c.Context)
				if err != nil {
					return fmt.Errorf("failed to describe schedule %s: %w", id, err)
				}
				printScheduleDescription(c.App.Writer, id, desc)
			}
			return nil
		},
	}
}

func printScheduleDescription(w io.Writer, id string, desc *client.ScheduleDescription) {
	fmt.Fprintf(w, "Schedule ID:    %s\n", id)
	if desc.Schedule.State != nil {
		fmt.Fprintf(w, "Paused:         %v\n", desc.Schedule.State.Paused)
		if desc.Schedule.State.Note != "" {
			fmt.Fprintf(w, "Note:           %s\n", desc.Schedule.State.Note)
		}
	}

	if wa, ok := desc.Schedule.Action.(*client.ScheduleWorkflowAction); ok {
		fmt.Fprintf(w, "Workflow:       %v\n", wa.Workflow)
		fmt.Fprintf(w, "Task Queue:     %s\n", wa.TaskQueue)
	}

	if desc.Schedule.Spec != nil {
		for _, interval := range desc.Schedule.Spec.Intervals {
			fmt.Fprintf(w, "Every:          %v\n", interval.Every)
		}
	}

	fmt.Fprintf(w, "Recent Actions: %d\n", len(desc.Info.RecentActions))
	if n := len(desc.Info.RecentActions); n > 0 {
		fmt.Fprintf(w, "Last Action:    %s\n", desc.Info.RecentActions[n-1].ActualTime.Format(time.RFC3339))
	}
	if len(desc.Info.NextActionTimes) > 0 {
		fmt.Fprintf(w, "Next Action:    %s\n", desc.Info.NextActionTimes[0].Format(time.RFC3339))
	}
	fmt.Fprintln(w)
}

func pauseSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause",
		Usage:     "Pause schedules",
		ArgsUsage: "[schedule-id...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why the schedule is paused",
				Value: "Paused via sybilwatch CLI",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := dialTemporal(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			for _, id := range scheduleIDs(c.Args()) {
				handle := tc.SDKClient().ScheduleClient().GetHandle(c.Context, id)
				if err := handle.Pause(c.Context, client.SchedulePauseOptions{Note: c.String("note")}); err != nil {
					return fmt.Errorf("failed to pause schedule %s: %w", id, err)
				}
				fmt.Fprintf(c.App.Writer, "Schedule paused: %s\n", id)
			}
			return nil
		},
	}
}

func resumeSchedulesCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume paused schedules",
		ArgsUsage: "[schedule-id...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "note",
				Usage: "Note explaining why the schedule is resumed",
				Value: "Resumed via sybilwatch CLI",
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := dialTemporal(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			for _, id := range scheduleIDs(c.Args()) {
				handle := tc.SDKClient().ScheduleClient().GetHandle(c.Context, id)
				if err := handle.Unpause(c.Context, client.ScheduleUnpauseOptions{Note: c.String("note")}); err != nil {
					return fmt.Errorf("failed to resume schedule %s: %w", id, err)
				}
				fmt.Fprintf(c.App.Writer, "Schedule resumed: %s\n", id)
			}
			return nil
		},
	}
}
