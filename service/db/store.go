package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/brojonat/sybilwatch/service/metrics"
	"github.com/brojonat/sybilwatch/service/sybil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoReports is returned when no analysis run has been saved yet.
var ErrNoReports = errors.New("no analysis reports stored")

//go:embed schema.sql
var schemaSQL string

// Store persists analysis runs and their clusters in Postgres.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Run is the summary row of one saved analysis.
type Run struct {
	ID                    int64     `json:"id"`
	GeneratedAt           time.Time `json:"generated_at"`
	CreatedAt             time.Time `json:"created_at"`
	SnapshotCount         int       `json:"snapshot_count"`
	FirstSnapshot         string    `json:"first_snapshot"`
	LastSnapshot          string    `json:"last_snapshot"`
	StakedValidatorCount  int       `json:"staked_validator_count"`
	FlaggedAddressCount   int       `json:"flagged_address_count"`
	CandidateCount        int       `json:"candidate_count"`
	ClusterCount          int       `json:"cluster_count"`
	TotalClusteredStakeUI float64   `json:"total_clustered_stake_ui"`
}

// ClusterRecord is one saved cluster, used to follow an identity across runs.
type ClusterRecord struct {
	RunID            int64     `json:"run_id"`
	GeneratedAt      time.Time `json:"generated_at"`
	Rank             int       `json:"rank"`
	LeadIdentity     string    `json:"lead_identity"`
	Addresses        []string  `json:"addresses"`
	StakedIdentities []string  `json:"staked_identities"`
	TotalStake       int64     `json:"total_stake"`
	TotalStakeUI     float64   `json:"total_stake_ui"`
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schemaSQL)
	s.record("ensure_schema", "analysis_runs", start, err)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveReport stores the report and one row per cluster in a single transaction.
func (s *Store) SaveReport(ctx context.Context, report *sybil.Report) (*Run, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	clusters, err := clusterRecords(report)
	if err != nil {
		return nil, err
	}

	run := runFromReport(report)
	start := time.Now()
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO analysis_runs (
				generated_at, snapshot_count, first_snapshot, last_snapshot,
				staked_validator_count, flagged_address_count, candidate_count,
				cluster_count, total_clustered_stake_ui, report
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at`,
			run.GeneratedAt, run.SnapshotCount, run.FirstSnapshot, run.LastSnapshot,
			run.StakedValidatorCount, run.FlaggedAddressCount, run.CandidateCount,
			run.ClusterCount, run.TotalClusteredStakeUI, payload,
		).Scan(&run.ID, &run.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		if len(clusters) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, c := range clusters {
			batch.Queue(`
				INSERT INTO sybil_clusters (
					run_id, rank, lead_identity, addresses, staked_identities, total_stake, total_stake_ui
				) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				run.ID, c.Rank, c.LeadIdentity, c.Addresses, c.StakedIdentities, c.TotalStake, c.TotalStakeUI,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert cluster %d: %w", i+1, err)
			}
		}
		return br.Close()
	})
	s.record("insert", "analysis_runs", start, err)
	if err != nil {
		return nil, err
	}

	return run, nil
}

// GetLatestReport returns the most recently generated report.
func (s *Store) GetLatestReport(ctx context.Context) (*sybil.Report, error) {
	var payload []byte
	start := time.Now()
	err := s.pool.QueryRow(ctx, `
		SELECT report FROM analysis_runs
		ORDER BY generated_at DESC, id DESC
		LIMIT 1`,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("select", "analysis_runs", start, nil)
		return nil, ErrNoReports
	}
	s.record("select", "analysis_runs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}

	var report sybil.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to decode stored report: %w", err)
	}
	return &report, nil
}

// ListRuns returns up to limit run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int32) ([]*Run, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT id, generated_at, created_at, snapshot_count, first_snapshot, last_snapshot,
			staked_validator_count, flagged_address_count, candidate_count,
			cluster_count, total_clustered_stake_ui
		FROM analysis_runs
		ORDER BY generated_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		s.record("select", "analysis_runs", start, err)
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.GeneratedAt, &r.CreatedAt, &r.SnapshotCount, &r.FirstSnapshot, &r.LastSnapshot,
			&r.StakedValidatorCount, &r.FlaggedAddressCount, &r.CandidateCount,
			&r.ClusterCount, &r.TotalClusteredStakeUI,
		); err != nil {
			s.record("select", "analysis_runs", start, err)
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	err = rows.Err()
	s.record("select", "analysis_runs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListClustersByIdentity returns up to limit saved clusters containing identity, newest run first.
func (s *Store) ListClustersByIdentity(ctx context.Context, identity string, limit int32) ([]*ClusterRecord, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT c.run_id, r.generated_at, c.rank, c.lead_identity, c.addresses,
			c.staked_identities, c.total_stake, c.total_stake_ui
		FROM sybil_clusters c
		JOIN analysis_runs r ON r.id = c.run_id
		WHERE c.staked_identities @> ARRAY[$1::text]
		ORDER BY r.generated_at DESC, c.run_id DESC
		LIMIT $2`, identity, limit)
	if err != nil {
		s.record("select", "sybil_clusters", start, err)
		return nil, fmt.Errorf("failed to list clusters for %s: %w", identity, err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*ClusterRecord, error) {
		var c ClusterRecord
		err := row.Scan(&c.RunID, &c.GeneratedAt, &c.Rank, &c.LeadIdentity, &c.Addresses,
			&c.StakedIdentities, &c.TotalStake, &c.TotalStakeUI)
		return &c, err
	})
	s.record("select", "sybil_clusters", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters for %s: %w", identity, err)
	}
	return records, nil
}

func (s *Store) record(operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
	}
}

func runFromReport(report *sybil.Report) *Run {
	return &Run{
		GeneratedAt:           report.GeneratedAt,
		SnapshotCount:         report.SnapshotCount,
		FirstSnapshot:         report.FirstSnapshot,
		LastSnapshot:          report.LastSnapshot,
		StakedValidatorCount:  report.StakedValidatorCount,
		FlaggedAddressCount:   report.FlaggedAddressCount,
		CandidateCount:        report.CandidateCount,
		ClusterCount:          report.ClusterCount,
		TotalClusteredStakeUI: report.TotalClusteredStakeUI,
	}
}

// clusterRecords maps report clusters to rows, rank 1 first.
func clusterRecords(report *sybil.Report) ([]*ClusterRecord, error) {
	out := make([]*ClusterRecord, 0, len(report.Clusters))
	for i, c := range report.Clusters {
		if c.TotalStake > math.MaxInt64 {
			return nil, fmt.Errorf("cluster %d: total stake %d overflows BIGINT", i+1, c.TotalStake)
		}
		out = append(out, &ClusterRecord{
			GeneratedAt:      report.GeneratedAt,
			Rank:             i + 1,
			LeadIdentity:     c.LeadIdentity(),
			Addresses:        c.Addresses,
			StakedIdentities: c.StakedIdentities,
			TotalStake:       int64(c.TotalStake),
			TotalStakeUI:     c.TotalStakeUI,
		})
	}
	return out, nil
}
