package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/sybilwatch/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

func natsCommand() *cli.Command {
	return &cli.Command{
		Name:  "nats",
		Usage: "Follow cluster events published to NATS JetStream",
		Subcommands: []*cli.Command{
			subscribeCommand(),
			inspectStreamCommand(),
		},
	}
}

// subscribeCommand streams cluster events, optionally for one lead identity.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream cluster events as analysis runs publish them",
		ArgsUsage: "[lead_identity]",
		Description: `Events are published to the subject sybil.clusters.{lead_identity}, one per
cluster of each analyzed report. Without an argument every cluster is streamed.

Example:
  sybilwatch nats subscribe --json --max 10`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "sybilwatch-cli",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print each event as one JSON line",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits until interrupted)",
			},
			&cli.IntFlag{
				Name:  "max",
				Usage: "Stop after this many events (0 is unlimited)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("at most one lead identity may be given")
			}
			natsURL := c.String("nats-url")
			if natsURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			subject := clusterSubject(c.Args().First())
			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			w := c.App.Writer
			if !jsonOutput {
				fmt.Fprintf(w, "Subscribing to %s (Ctrl-C to exit)\n\n", subject)
			}

			msgs := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				msgs <- msg
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			received := 0
			limit := c.Int("max")
			for {
				select {
				case msg := <-msgs:
					var event natspkg.ClusterEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
						_ = msg.Ack()
						continue
					}
					received++
					if err := printClusterEvent(w, received, &event, jsonOutput); err != nil {
						return err
					}
					_ = msg.Ack()
					if limit > 0 && received >= limit {
						return nil
					}
				case <-ctx.Done():
					if !jsonOutput {
						fmt.Fprintf(w, "Received %d cluster events\n", received)
					}
					return nil
				}
			}
		},
	}
}

// clusterSubject returns the subject filter for an optional lead identity.
func clusterSubject(identity string) string {
	if identity == "" {
		return natspkg.StreamSubjects
	}
	return natspkg.SubjectPrefix + identity
}

func printClusterEvent(w io.Writer, n int, event *natspkg.ClusterEvent, jsonOutput bool) error {
	if jsonOutput {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	fmt.Fprintf(w, "Cluster event #%d\n", n)
	if event.RunID != 0 {
		fmt.Fprintf(w, "  Run:        %d\n", event.RunID)
	}
	fmt.Fprintf(w, "  Generated:  %s\n", event.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Rank:       %d\n", event.Rank)
	fmt.Fprintf(w, "  Lead:       %s\n", event.LeadIdentity)
	fmt.Fprintf(w, "  Stake:      %.2f SOL\n", event.TotalStakeUI)
	fmt.Fprintf(w, "  Identities: %s\n", strings.Join(event.StakedIdentities, ", "))
	_, err := fmt.Fprintf(w, "  Addresses:  %s\n\n", strings.Join(event.Addresses, ", "))
	return err
}

// inspectStreamCommand shows information about the cluster event stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the SYBIL_CLUSTERS JetStream stream",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the stream info as JSON",
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			if natsURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}

			nc, err := nats.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			w := c.App.Writer
			if c.Bool("json") {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			fmt.Fprintf(w, "Stream:     %s\n", info.Config.Name)
			fmt.Fprintf(w, "Subjects:   %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:   %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:      %d\n", info.State.Bytes)
			fmt.Fprintf(w, "First Seq:  %d\n", info.State.FirstSeq)
			fmt.Fprintf(w, "Last Seq:   %d\n", info.State.LastSeq)
			fmt.Fprintf(w, "Consumers:  %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:    %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
