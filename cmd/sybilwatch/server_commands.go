package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/sybilwatch/client"
	natspkg "github.com/brojonat/sybilwatch/service/nats"
	"github.com/urfave/cli/v2"
)

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Talk to a running sybilwatch server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "HTTP server URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
		},
		Subcommands: []*cli.Command{
			healthCommand(),
			watchCommand(),
			apiSummaryCommand(),
			apiClustersCommand(),
			apiClusterCommand(),
			apiRunsCommand(),
			apiIdentityCommand(),
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := strings.TrimRight(c.String("server-url"), "/")
			client := &http.Client{Timeout: c.Duration("timeout")}

			resp, err := client.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
			}
			fmt.Fprintf(c.App.Writer, "Server is healthy (status: %d)\n", resp.StatusCode)
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
			return nil
		},
	}
}

// watchCommand follows the server's cluster stream over SSE.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Stream cluster events from the server (SSE)",
		ArgsUsage: "[lead_identity]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output events as JSON (one per line)",
			},
		},
		Action: func(c *cli.Context) error {
			streamURL, err := clusterStreamURL(c.String("server-url"), c.Args().First())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			// No client timeout; the stream stays open until interrupted.
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			jsonOutput := c.Bool("json")
			received := 0
			err = readSSE(resp.Body, func(event, data string) error {
				switch event {
				case "connected":
					if !jsonOutput {
						fmt.Fprintf(c.App.ErrWriter, "Connected to %s\n\n", streamURL)
					}
				case "cluster":
					var e natspkg.ClusterEvent
					if err := json.Unmarshal([]byte(data), &e); err != nil {
						fmt.Fprintf(c.App.ErrWriter, "Error parsing event: %v\n", err)
						return nil
					}
					received++
					return printClusterEvent(c.App.Writer, received, &e, jsonOutput)
				case "error":
					return fmt.Errorf("server error: %s", data)
				}
				return nil
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func clusterStreamURL(serverURL, identity string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/") + "/api/v1/stream/clusters")
	if err != nil {
		return "", fmt.Errorf("invalid server-url: %w", err)
	}
	if identity != "" {
		u.RawQuery = url.Values{"identity": {identity}}.Encode()
	}
	return u.String(), nil
}

// readSSE calls handle for every complete event frame in r. Comment lines
// (keepalives) are skipped. It returns when r ends or handle fails.
func readSSE(r io.Reader, handle func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" && len(data) > 0 {
				if err := handle(event, strings.Join(data, "\n")); err != nil {
					return err
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}
	return nil
}

func jqFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "jq",
		Usage: "jq filter applied to the response before printing",
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, newLogger(c))
}

// printAPIResult writes v through the jq filter, or as indented JSON.
func printAPIResult(c *cli.Context, v interface{}) error {
	code, err := compileJQ(c.String("jq"))
	if err != nil {
		return err
	}
	if code == nil {
		code, _ = compileJQ(".")
	}
	return runJQ(code, v, c.App.Writer)
}

func apiSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show the headline counts of the latest report",
		Flags: []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			summary, err := newAPIClient(c).LatestSummary(c.Context)
			if err != nil {
				return err
			}
			return printAPIResult(c, summary)
		},
	}
}

func apiClustersCommand() *cli.Command {
	return &cli.Command{
		Name:  "clusters",
		Usage: "List clusters of the latest report, largest stake first",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "min-stake",
				Usage: "Only list clusters holding at least this much SOL",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of clusters (0 uses the server default)",
			},
			&cli.BoolFlag{
				Name:  "table",
				Usage: "Print a cluster table instead of JSON",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			page, err := newAPIClient(c).Clusters(c.Context, c.Float64("min-stake"), c.Int("limit"))
			if err != nil {
				return err
			}
			if c.Bool("table") {
				if err := printClusters(c.App.Writer, page.Clusters); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "\n%d of %d clusters\n", len(page.Clusters), page.Total)
				return nil
			}
			return printAPIResult(c, page)
		},
	}
}

func apiClusterCommand() *cli.Command {
	return &cli.Command{
		Name:      "cluster",
		Usage:     "Show one cluster of the latest report",
		ArgsUsage: "<rank>",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: cluster rank")
			}
			rank, err := strconv.Atoi(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid rank %q: %w", c.Args().First(), err)
			}
			cluster, err := newAPIClient(c).Cluster(c.Context, rank)
			if err != nil {
				return err
			}
			return printAPIResult(c, cluster)
		},
	}
}

func apiRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List saved analysis runs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs (0 uses the server default)",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			runs, err := newAPIClient(c).Runs(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			return printAPIResult(c, runs)
		},
	}
}

func apiIdentityCommand() *cli.Command {
	return &cli.Command{
		Name:      "identity",
		Usage:     "List the saved clusters an identity appeared in",
		ArgsUsage: "<identity>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of clusters (0 uses the server default)",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: identity pubkey")
			}
			records, err := newAPIClient(c).IdentityClusters(c.Context, c.Args().First(), c.Int("limit"))
			if err != nil {
				return err
			}
			return printAPIResult(c, records)
		},
	}
}
