package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/metrics"
	"github.com/brojonat/sybilwatch/service/registry"
	"github.com/brojonat/sybilwatch/service/sybil"
)

// RecordSnapshotInput contains the input parameters for recording a gossip snapshot.
type RecordSnapshotInput struct {
	GossipDir string `json:"gossip_dir"`
}

// RecordSnapshotResult contains the result of recording a gossip snapshot.
type RecordSnapshotResult struct {
	Path       string    `json:"path"`
	Nodes      int       `json:"nodes"`
	CapturedAt time.Time `json:"captured_at"`
}

// RefreshValidatorsInput contains parameters for the RefreshValidators activity.
type RefreshValidatorsInput struct {
	OutputPath string `json:"output_path"`
}

// RefreshValidatorsResult contains the result of refreshing the active-validator list.
type RefreshValidatorsResult struct {
	Validators int `json:"validators"`
}

// RunAnalysisInput contains parameters for the RunAnalysis activity.
type RunAnalysisInput struct {
	Inputs     sybil.Inputs `json:"inputs"`
	OutputFile string       `json:"output_file"`
}

// RunAnalysisResult carries the report summary; the report itself stays in
// OutputFile so workflow history does not hold it.
type RunAnalysisResult struct {
	OutputFile string        `json:"output_file"`
	Summary    sybil.Summary `json:"summary"`
}

// SaveReportInput contains parameters for the SaveReport activity.
type SaveReportInput struct {
	ReportFile string `json:"report_file"`
}

// SaveReportResult contains the result of persisting a report.
type SaveReportResult struct {
	RunID   int64 `json:"run_id"`
	Skipped bool  `json:"skipped"` // no store configured
}

// PublishReportInput contains parameters for the PublishReport activity.
type PublishReportInput struct {
	ReportFile string `json:"report_file"`
	RunID      int64  `json:"run_id"`
}

// PublishReportResult contains the result of publishing cluster events.
type PublishReportResult struct {
	Published int  `json:"published"`
	Skipped   bool `json:"skipped"` // no publisher configured
}

// SnapshotRecorder captures the gossip membership into a directory.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, dir string, capturedAt time.Time) (string, int, error)
}

// ValidatorFetcher reads the active-validator list from the cluster.
type ValidatorFetcher interface {
	FetchActiveValidators(ctx context.Context) ([]registry.ActiveValidator, error)
}

// AnalysisRunner runs the full analysis pipeline.
type AnalysisRunner interface {
	Run(ctx context.Context, in sybil.Inputs) (*sybil.Analysis, error)
}

// StoreInterface defines the database operations needed by activities.
// This allows for easy mocking in tests.
type StoreInterface interface {
	SaveReport(ctx context.Context, report *sybil.Report) (*db.Run, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
// This allows for easy mocking in tests.
type PublisherInterface interface {
	PublishReport(ctx context.Context, runID int64, report *sybil.Report) (int, error)
}

// Activities holds the dependencies needed by Temporal activities.
// Store and publisher are optional; their activities report Skipped when nil.
type Activities struct {
	recorder  SnapshotRecorder
	fetcher   ValidatorFetcher
	analyzer  AnalysisRunner
	store     StoreInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	recorder SnapshotRecorder,
	fetcher ValidatorFetcher,
	analyzer AnalysisRunner,
	store StoreInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		recorder:  recorder,
		fetcher:   fetcher,
		analyzer:  analyzer,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// observe records activity duration and outcome. Use with defer and a named error.
func (a *Activities) observe(activity string, start time.Time, err *error) {
	if a.metrics == nil {
		return
	}
	status := "success"
	if *err != nil {
		status = "error"
	}
	a.metrics.RecordActivity(activity, status, time.Since(start).Seconds())
}

// RecordSnapshot writes one gossip snapshot into the gossip directory.
func (a *Activities) RecordSnapshot(ctx context.Context, input RecordSnapshotInput) (result *RecordSnapshotResult, err error) {
	defer a.observe("RecordSnapshot", time.Now(), &err)

	if a.recorder == nil {
		return nil, fmt.Errorf("no snapshot recorder configured")
	}

	capturedAt := time.Now().UTC()
	path, nodes, err := a.recorder.RecordSnapshot(ctx, input.GossipDir, capturedAt)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record snapshot",
			"gossip_dir", input.GossipDir,
			"error", err,
		)
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	return &RecordSnapshotResult{Path: path, Nodes: nodes, CapturedAt: capturedAt}, nil
}

// RefreshValidators rewrites the active-validator file from the cluster.
func (a *Activities) RefreshValidators(ctx context.Context, input RefreshValidatorsInput) (result *RefreshValidatorsResult, err error) {
	defer a.observe("RefreshValidators", time.Now(), &err)

	if a.fetcher == nil {
		return nil, fmt.Errorf("no validator fetcher configured")
	}

	validators, err := a.fetcher.FetchActiveValidators(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch validators: %w", err)
	}
	if err := registry.WriteActiveValidators(input.OutputPath, validators); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "refreshed active validators",
		"path", input.OutputPath,
		"count", len(validators),
	)
	return &RefreshValidatorsResult{Validators: len(validators)}, nil
}

// RunAnalysis runs the pipeline and writes the report to OutputFile.
func (a *Activities) RunAnalysis(ctx context.Context, input RunAnalysisInput) (result *RunAnalysisResult, err error) {
	defer a.observe("RunAnalysis", time.Now(), &err)

	analysis, err := a.analyzer.Run(ctx, input.Inputs)
	if err != nil {
		a.logger.ErrorContext(ctx, "analysis failed", "error", err)
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	if err := analysis.Report.WriteFile(input.OutputFile); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "analysis written",
		"output_file", input.OutputFile,
		"clusters", analysis.Report.ClusterCount,
	)
	return &RunAnalysisResult{
		OutputFile: input.OutputFile,
		Summary:    analysis.Report.Summary(),
	}, nil
}

// SaveReport persists the report file to the database.
func (a *Activities) SaveReport(ctx context.Context, input SaveReportInput) (result *SaveReportResult, err error) {
	defer a.observe("SaveReport", time.Now(), &err)

	if a.store == nil {
		a.logger.DebugContext(ctx, "no store configured, skipping save")
		return &SaveReportResult{Skipped: true}, nil
	}

	report, err := sybil.ReadReportFile(input.ReportFile)
	if err != nil {
		return nil, err
	}

	run, err := a.store.SaveReport(ctx, report)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to save report", "error", err)
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	a.logger.InfoContext(ctx, "saved report", "run_id", run.ID)
	return &SaveReportResult{RunID: run.ID}, nil
}

// PublishReport publishes one event per cluster of the report file.
func (a *Activities) PublishReport(ctx context.Context, input PublishReportInput) (result *PublishReportResult, err error) {
	defer a.observe("PublishReport", time.Now(), &err)

	if a.publisher == nil {
		a.logger.DebugContext(ctx, "no publisher configured, skipping publish")
		return &PublishReportResult{Skipped: true}, nil
	}

	report, err := sybil.ReadReportFile(input.ReportFile)
	if err != nil {
		return nil, err
	}

	published, err := a.publisher.PublishReport(ctx, input.RunID, report)
	if err != nil {
		return nil, fmt.Errorf("failed to publish report: %w", err)
	}
	return &PublishReportResult{Published: published}, nil
}
