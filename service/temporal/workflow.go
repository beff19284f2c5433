package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/sybilwatch/service/sybil"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RecordSnapshotWorkflowInput contains the input for RecordSnapshotWorkflow.
type RecordSnapshotWorkflowInput struct {
	GossipDir string `json:"gossip_dir"`
}

// AnalyzeWorkflowInput contains the input for AnalyzeWorkflow.
type AnalyzeWorkflowInput struct {
	Inputs     sybil.Inputs `json:"inputs"`
	OutputFile string       `json:"output_file"`
	// RefreshValidators rewrites Inputs.Registry.ActiveValidators from the
	// cluster before analyzing.
	RefreshValidators bool `json:"refresh_validators"`
}

// AnalyzeWorkflowResult contains the result of AnalyzeWorkflow.
type AnalyzeWorkflowResult struct {
	OutputFile string        `json:"output_file"`
	Summary    sybil.Summary `json:"summary"`
	RunID      int64         `json:"run_id,omitempty"`
	Published  int           `json:"published"`
	Refreshed  bool          `json:"refreshed"`
	Error      *string       `json:"error,omitempty"`
}

func defaultActivityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// RecordSnapshotWorkflow captures one gossip snapshot. It is triggered by a
// Temporal schedule so the snapshot directory accumulates a history.
func RecordSnapshotWorkflow(ctx workflow.Context, input RecordSnapshotWorkflowInput) (*RecordSnapshotResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions(60*time.Second))

	var result *RecordSnapshotResult
	err := workflow.ExecuteActivity(ctx, a.RecordSnapshot, RecordSnapshotInput{GossipDir: input.GossipDir}).Get(ctx, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	logger.Info("recorded gossip snapshot", "path", result.Path, "nodes", result.Nodes)
	return result, nil
}

// AnalyzeWorkflow runs the analysis over the accumulated snapshots.
//
// The workflow performs these steps:
// 1. Optionally refresh the active-validator list (failure is logged, the old file is used)
// 2. Run the analysis and write the report file
// 3. Save the report to the database
// 4. Publish one event per cluster (failure is logged)
func AnalyzeWorkflow(ctx workflow.Context, input AnalyzeWorkflowInput) (*AnalyzeWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("AnalyzeWorkflow started", "gossip_dir", input.Inputs.GossipDir)

	result := &AnalyzeWorkflowResult{OutputFile: input.OutputFile}

	if input.RefreshValidators {
		refreshCtx := workflow.WithActivityOptions(ctx, defaultActivityOptions(120*time.Second))
		var refresh *RefreshValidatorsResult
		err := workflow.ExecuteActivity(refreshCtx, a.RefreshValidators, RefreshValidatorsInput{
			OutputPath: input.Inputs.Registry.ActiveValidators,
		}).Get(refreshCtx, &refresh)
		if err != nil {
			logger.Warn("failed to refresh validators, using existing file", "error", err)
		} else {
			result.Refreshed = true
			logger.Info("refreshed validators", "count", refresh.Validators)
		}
	}

	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions(600*time.Second))

	var analysis *RunAnalysisResult
	err := workflow.ExecuteActivity(ctx, a.RunAnalysis, RunAnalysisInput{
		Inputs:     input.Inputs,
		OutputFile: input.OutputFile,
	}).Get(ctx, &analysis)
	if err != nil {
		errMsg := fmt.Sprintf("failed to run analysis: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to run analysis: %w", err)
	}
	result.Summary = analysis.Summary

	var saved *SaveReportResult
	err = workflow.ExecuteActivity(ctx, a.SaveReport, SaveReportInput{ReportFile: analysis.OutputFile}).Get(ctx, &saved)
	if err != nil {
		errMsg := fmt.Sprintf("failed to save report: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to save report: %w", err)
	}
	result.RunID = saved.RunID

	var published *PublishReportResult
	err = workflow.ExecuteActivity(ctx, a.PublishReport, PublishReportInput{
		ReportFile: analysis.OutputFile,
		RunID:      saved.RunID,
	}).Get(ctx, &published)
	if err != nil {
		// The report is already saved; consumers can catch up from the API.
		logger.Warn("failed to publish cluster events", "error", err)
	} else {
		result.Published = published.Published
	}

	logger.Info("AnalyzeWorkflow completed",
		"clusters", result.Summary.ClusterCount,
		"run_id", result.RunID,
		"published", result.Published,
	)
	return result, nil
}
