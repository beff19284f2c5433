package sybil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/sybilwatch/service/gossip"
	"github.com/brojonat/sybilwatch/service/history"
	"github.com/brojonat/sybilwatch/service/metrics"
	"github.com/brojonat/sybilwatch/service/registry"
)

// Inputs locates the reference datasets and the gossip snapshot directory.
type Inputs struct {
	Registry  registry.Paths
	GossipDir string
}

// Analyzer runs the full pipeline: registry, histories, candidates, clusters.
type Analyzer struct {
	loader  *gossip.Loader
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewAnalyzer creates an Analyzer. readConcurrency bounds parallel snapshot
// reads. If m is nil, no metrics are recorded.
func NewAnalyzer(readConcurrency int, m *metrics.Metrics, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		loader:  gossip.NewLoader(readConcurrency, logger),
		metrics: m,
		logger:  logger.With("component", "analyzer"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Analysis carries the intermediate products of a run alongside the report.
type Analysis struct {
	Report   *Report
	Registry *registry.Registry // includes observed addresses
	History  *history.Result
}

// Run loads every input from disk and analyzes it. Any input error aborts the
// run before a report exists.
func (a *Analyzer) Run(ctx context.Context, in Inputs) (*Analysis, error) {
	analysis, err := a.run(ctx, in)
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordAnalysisRun(status)
	}
	return analysis, err
}

func (a *Analyzer) run(ctx context.Context, in Inputs) (*Analysis, error) {
	elapsed := metrics.Since(time.Now())
	reg, err := registry.Load(in.Registry, a.logger)
	if err != nil {
		return nil, err
	}
	a.recordStage("registry", elapsed())

	paths, err := gossip.ListSnapshotFiles(in.GossipDir)
	if err != nil {
		return nil, err
	}

	elapsed = metrics.Since(time.Now())
	snapshots, err := a.loader.Load(ctx, paths)
	if err != nil {
		return nil, err
	}
	a.recordStage("read_snapshots", elapsed())

	a.logger.Info("loaded gossip snapshots",
		"dir", in.GossipDir,
		"count", len(snapshots),
		"first", snapshots[0].Label,
		"last", snapshots[len(snapshots)-1].Label,
	)

	return a.Analyze(reg, snapshots)
}

// Analyze runs the in-memory part of the pipeline over snapshots, which must
// already be in chronological order.
func (a *Analyzer) Analyze(reg *registry.Registry, snapshots []*gossip.Snapshot) (*Analysis, error) {
	elapsed := metrics.Since(time.Now())
	hist := history.Build(snapshots, reg)
	observed := reg.WithObservedAddresses(hist.ObservedAddresses)
	a.recordStage("history", elapsed())

	elapsed = metrics.Since(time.Now())
	candidates, err := FilterCandidates(hist, observed)
	if err != nil {
		return nil, fmt.Errorf("failed to filter candidates: %w", err)
	}
	a.recordStage("candidates", elapsed())

	elapsed = metrics.Since(time.Now())
	clusters := Aggregate(candidates)
	a.recordStage("cluster", elapsed())

	report := &Report{
		GeneratedAt:          a.now(),
		SnapshotCount:        len(snapshots),
		StakedValidatorCount: observed.Len(),
		AddressCount:         len(hist.Histories),
		FlaggedAddressCount:  len(hist.Flagged),
		CandidateCount:       len(candidates),
		ClusterCount:         len(clusters),
		Candidates:           candidates,
		Clusters:             clusters,
	}
	if len(snapshots) > 0 {
		report.FirstSnapshot = snapshots[0].Label
		report.LastSnapshot = snapshots[len(snapshots)-1].Label
	}
	for _, c := range clusters {
		report.TotalClusteredStakeUI += c.TotalStakeUI
	}

	if a.metrics != nil {
		a.metrics.RecordSnapshotsProcessed(hist.Snapshots, hist.Observations)
		a.metrics.SetAddressCounts(report.AddressCount, report.FlaggedAddressCount, report.CandidateCount)
		a.metrics.SetClusters(report.ClusterCount, report.TotalClusteredStakeUI)
		for _, c := range clusters {
			a.metrics.ObserveClusterAddresses(len(c.Addresses))
		}
	}

	a.logger.Info("analysis complete",
		"snapshots", report.SnapshotCount,
		"staked_validators", report.StakedValidatorCount,
		"addresses", report.AddressCount,
		"flagged", report.FlaggedAddressCount,
		"candidates", report.CandidateCount,
		"clusters", report.ClusterCount,
		"clustered_stake_sol", report.TotalClusteredStakeUI,
	)

	return &Analysis{Report: report, Registry: observed, History: hist}, nil
}

func (a *Analyzer) recordStage(stage string, seconds float64) {
	a.logger.Debug("stage complete", "stage", stage, "seconds", seconds)
	if a.metrics != nil {
		a.metrics.RecordStageDuration(stage, seconds)
	}
}
