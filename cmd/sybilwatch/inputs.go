package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/sybilwatch/service/config"
	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// inputFlags are the analysis input locations shared by analyze, graph and schedule.
func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "gossip-dir",
			Aliases: []string{"g"},
			Usage:   "Directory of gossip snapshot files, analyzed in filename order",
			EnvVars: []string{"GOSSIP_DIR"},
			Value:   "/home/ubuntu/gossip-out",
		},
		&cli.StringFlag{
			Name:    "active-validators",
			Usage:   "Active validator list (solana validators --output json)",
			EnvVars: []string{"ACTIVE_VALIDATORS_FILE"},
			Value:   "active_validators.json",
		},
		&cli.StringFlag{
			Name:    "jito-validators",
			Usage:   "Jito stake pool validator list",
			EnvVars: []string{"JITO_VALIDATORS_FILE"},
			Value:   "jito_validators.json",
		},
		&cli.StringFlag{
			Name:    "sfdp-participants",
			Usage:   "Solana Foundation Delegation Program participant list",
			EnvVars: []string{"SFDP_PARTICIPANTS_FILE"},
			Value:   "sfdp_participants.json",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Report output file",
			EnvVars: []string{"OUTPUT_FILE"},
			Value:   "sybil_analysis_output.json",
		},
		&cli.IntFlag{
			Name:    "read-concurrency",
			Usage:   "Number of snapshot files read in parallel",
			EnvVars: []string{"READ_CONCURRENCY"},
			Value:   8,
		},
	}
}

// configFromFlags maps command-line flags onto the service configuration so
// the CLI shares its validation and input checks.
func configFromFlags(c *cli.Context) *config.Config {
	return &config.Config{
		LogLevel:             c.String("log-level"),
		GossipDir:            c.String("gossip-dir"),
		ActiveValidatorsFile: c.String("active-validators"),
		JitoValidatorsFile:   c.String("jito-validators"),
		SFDPParticipantsFile: c.String("sfdp-participants"),
		OutputFile:           c.String("output"),
		ReadConcurrency:      c.Int("read-concurrency"),
		SolanaRPCURL:         c.String("rpc-url"),
		DatabaseURL:          c.String("database-url"),
		NATSURL:              c.String("nats-url"),
		MetricsFile:          c.String("metrics-file"),
		TemporalHost:         c.String("temporal-host"),
		TemporalNamespace:    c.String("temporal-namespace"),
		TemporalTaskQueue:    c.String("temporal-task-queue"),
		RecordInterval:       c.Duration("record-interval"),
		AnalyzeInterval:      c.Duration("analyze-interval"),
		RefreshValidators:    c.Bool("refresh-validators"),
	}
}

// checkAnalysisInputs fails before any work when an input is missing.
func checkAnalysisInputs(cfg *config.Config) error {
	if cfg.ReadConcurrency < 1 {
		return fmt.Errorf("read-concurrency must be at least 1")
	}
	if cfg.OutputFile == "" {
		return fmt.Errorf("output is required")
	}
	return cfg.CheckInputs()
}

// openStore connects to Postgres and makes sure the schema exists.
// The returned close function releases the pool.
func openStore(ctx context.Context, databaseURL string, m *metrics.Metrics, logger *slog.Logger) (*db.Store, func(), error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool, m)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Debug("connected to database")

	return store, pool.Close, nil
}
