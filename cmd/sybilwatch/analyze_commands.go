package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/metrics"
	natspkg "github.com/brojonat/sybilwatch/service/nats"
	"github.com/brojonat/sybilwatch/service/sybil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Analyze the gossip snapshots and write the cluster report",
		Flags: append(inputFlags(),
			&cli.StringFlag{
				Name:    "metrics-file",
				Usage:   "Write the run's metrics in Prometheus text format to this file",
				EnvVars: []string{"METRICS_FILE"},
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the report before printing (e.g. '.clusters[0]')",
			},
			&cli.BoolFlag{
				Name:  "save",
				Usage: "Save the report to the database (requires --database-url)",
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish one NATS event per cluster (requires --nats-url)",
			},
		),
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			cfg := configFromFlags(c)
			if err := checkAnalysisInputs(cfg); err != nil {
				return err
			}
			if c.Bool("save") && cfg.DatabaseURL == "" {
				return fmt.Errorf("database-url is required for --save (set DATABASE_URL env var or use --database-url)")
			}
			if c.Bool("publish") && cfg.NATSURL == "" {
				return fmt.Errorf("nats-url is required for --publish (set NATS_URL env var or use --nats-url)")
			}

			jq, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}

			// A private registry keeps the textfile to this run's collectors.
			m := metrics.NewMetrics(prometheus.NewRegistry())

			analyzer := sybil.NewAnalyzer(cfg.ReadConcurrency, m, logger)
			analysis, err := analyzer.Run(c.Context, cfg.AnalyzerInputs())
			if err != nil {
				return err
			}
			report := analysis.Report

			if err := report.WriteFile(cfg.OutputFile); err != nil {
				return err
			}
			logger.Info("report written", "path", cfg.OutputFile, "clusters", report.ClusterCount)

			var runID int64
			if c.Bool("save") {
				store, closeStore, err := openStore(c.Context, cfg.DatabaseURL, m, logger)
				if err != nil {
					return err
				}
				defer closeStore()

				run, err := store.SaveReport(c.Context, report)
				if err != nil {
					return err
				}
				runID = run.ID
				logger.Info("report saved", "run_id", runID)
			}

			if c.Bool("publish") {
				publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
				if err != nil {
					return err
				}
				defer publisher.Close()

				published, err := publisher.PublishReport(c.Context, runID, report)
				if err != nil {
					return err
				}
				logger.Info("cluster events published", "count", published)
			}

			if cfg.MetricsFile != "" {
				if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
					return err
				}
			}

			if jq != nil {
				return runJQ(jq, report, c.App.Writer)
			}
			return printSummary(c.App.Writer, report, runID)
		},
	}
}

// printSummary writes a short human-readable account of the report.
func printSummary(w io.Writer, report *sybil.Report, runID int64) error {
	fmt.Fprintf(w, "Analyzed %d snapshots (%s .. %s)\n", report.SnapshotCount, report.FirstSnapshot, report.LastSnapshot)
	fmt.Fprintf(w, "  Staked validators: %d\n", report.StakedValidatorCount)
	fmt.Fprintf(w, "  Addresses seen:    %d (%d hosted several identities)\n", report.AddressCount, report.FlaggedAddressCount)
	fmt.Fprintf(w, "  Candidates:        %d\n", report.CandidateCount)
	fmt.Fprintf(w, "  Clusters:          %d holding %.2f SOL\n", report.ClusterCount, report.TotalClusteredStakeUI)
	if runID != 0 {
		fmt.Fprintf(w, "  Run ID:            %d\n", runID)
	}
	if len(report.Clusters) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	return printClusters(w, report.Clusters)
}

// printClusters writes one row per cluster.
func printClusters(w io.Writer, clusters []*sybil.Cluster) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSTAKE (SOL)\tIDENTITIES\tADDRESSES\tLEAD")
	for i, c := range clusters {
		fmt.Fprintf(tw, "%d\t%.2f\t%d\t%d\t%s\n", i+1, c.TotalStakeUI, len(c.StakedIdentities), len(c.Addresses), c.LeadIdentity())
	}
	return tw.Flush()
}

func graphCommand() *cli.Command {
	return &cli.Command{
		Name:  "graph",
		Usage: "Write the identity co-occurrence graph over every observed address",
		Description: `Connects every pair of staked identities that were ever seen at the same
address, including addresses that never became candidates. The result is a
vis-network document of nodes and edges, separate from the cluster report.`,
		Flags: append(inputFlags(),
			&cli.StringFlag{
				Name:    "graph-output",
				Usage:   "Graph output file",
				EnvVars: []string{"GRAPH_FILE"},
				Value:   "sybil_graph.json",
			},
		),
		Action: func(c *cli.Context) error {
			logger := newLogger(c)
			cfg := configFromFlags(c)
			if err := checkAnalysisInputs(cfg); err != nil {
				return err
			}

			analyzer := sybil.NewAnalyzer(cfg.ReadConcurrency, nil, logger)
			analysis, err := analyzer.Run(c.Context, cfg.AnalyzerInputs())
			if err != nil {
				return err
			}

			graph := sybil.BuildCooccurrenceGraph(analysis.Registry)
			path := c.String("graph-output")
			if err := graph.WriteFile(path); err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "Wrote %d nodes and %d edges to %s\n", len(graph.Nodes), len(graph.Edges), path)
			return nil
		},
	}
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Print a saved report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Report file written by analyze",
				EnvVars: []string{"OUTPUT_FILE"},
				Value:   "sybil_analysis_output.json",
			},
			&cli.BoolFlag{
				Name:  "from-db",
				Usage: "Read the latest report from the database instead of a file",
			},
			&cli.Float64Flag{
				Name:  "min-stake",
				Usage: "Only keep clusters holding at least this much SOL",
			},
			&cli.StringFlag{
				Name:  "jq",
				Usage: "jq filter applied to the report before printing",
			},
			&cli.BoolFlag{
				Name:  "table",
				Usage: "Print a cluster table instead of JSON",
			},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c)

			if c.Float64("min-stake") < 0 {
				return fmt.Errorf("min-stake must be non-negative")
			}
			jq, err := compileJQ(c.String("jq"))
			if err != nil {
				return err
			}

			var report *sybil.Report
			if c.Bool("from-db") {
				store, closeStore, err := openStore(c.Context, c.String("database-url"), nil, logger)
				if err != nil {
					return err
				}
				defer closeStore()

				report, err = store.GetLatestReport(c.Context)
				if errors.Is(err, db.ErrNoReports) {
					return fmt.Errorf("no report has been saved yet")
				}
				if err != nil {
					return err
				}
			} else {
				report, err = sybil.ReadReportFile(c.String("file"))
				if err != nil {
					return err
				}
			}

			if minStake := c.Float64("min-stake"); minStake > 0 {
				filtered := *report
				filtered.Clusters = report.ClustersAbove(minStake)
				report = &filtered
			}

			switch {
			case jq != nil:
				return runJQ(jq, report, c.App.Writer)
			case c.Bool("table"):
				return printClusters(c.App.Writer, report.Clusters)
			default:
				return report.Encode(c.App.Writer)
			}
		},
	}
}
