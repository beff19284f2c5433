package temporal

import (
	"errors"
	"testing"

	"github.com/brojonat/sybilwatch/service/registry"
	"github.com/brojonat/sybilwatch/service/sybil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestRecordSnapshotWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.RecordSnapshot)
	env.OnActivity(activities.RecordSnapshot, mock.Anything, RecordSnapshotInput{GossipDir: "/data/gossip"}).
		Return(&RecordSnapshotResult{Path: "/data/gossip/a.json", Nodes: 3}, nil)

	env.ExecuteWorkflow(RecordSnapshotWorkflow, RecordSnapshotWorkflowInput{GossipDir: "/data/gossip"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result RecordSnapshotResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 3, result.Nodes)
}

func TestRecordSnapshotWorkflow_Failure(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.RecordSnapshot)
	env.OnActivity(activities.RecordSnapshot, mock.Anything, mock.Anything).
		Return(nil, errors.New("rpc unavailable"))

	env.ExecuteWorkflow(RecordSnapshotWorkflow, RecordSnapshotWorkflowInput{GossipDir: "/data/gossip"})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}

func TestAnalyzeWorkflow(t *testing.T) {
	input := AnalyzeWorkflowInput{
		Inputs: sybil.Inputs{
			Registry:  registry.Paths{ActiveValidators: "/data/validators.json"},
			GossipDir: "/data/gossip",
		},
		OutputFile: "/data/report.json",
	}
	summary := sybil.Summary{ClusterCount: 2, TotalClusteredStakeUI: 300}
	analysisOK := &RunAnalysisResult{OutputFile: "/data/report.json", Summary: summary}

	tests := []struct {
		name           string
		refresh        bool
		mockActivities func(env *testsuite.TestWorkflowEnvironment, activities *Activities)
		expectedError  bool
		validateResult func(*testing.T, *AnalyzeWorkflowResult)
	}{
		{
			name: "full run",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RunAnalysis, mock.Anything, mock.Anything).Return(analysisOK, nil)
				env.OnActivity(activities.SaveReport, mock.Anything, SaveReportInput{ReportFile: "/data/report.json"}).
					Return(&SaveReportResult{RunID: 11}, nil)
				env.OnActivity(activities.PublishReport, mock.Anything, PublishReportInput{ReportFile: "/data/report.json", RunID: 11}).
					Return(&PublishReportResult{Published: 2}, nil)
			},
			validateResult: func(t *testing.T, r *AnalyzeWorkflowResult) {
				assert.Equal(t, int64(11), r.RunID)
				assert.Equal(t, 2, r.Published)
				assert.Equal(t, 2, r.Summary.ClusterCount)
				assert.False(t, r.Refreshed)
				assert.Nil(t, r.Error)
			},
		},
		{
			name:    "refresh failure does not stop the run",
			refresh: true,
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RefreshValidators, mock.Anything, RefreshValidatorsInput{OutputPath: "/data/validators.json"}).
					Return(nil, errors.New("rpc down"))
				env.OnActivity(activities.RunAnalysis, mock.Anything, mock.Anything).Return(analysisOK, nil)
				env.OnActivity(activities.SaveReport, mock.Anything, mock.Anything).Return(&SaveReportResult{RunID: 12}, nil)
				env.OnActivity(activities.PublishReport, mock.Anything, mock.Anything).Return(&PublishReportResult{Published: 2}, nil)
			},
			validateResult: func(t *testing.T, r *AnalyzeWorkflowResult) {
				assert.False(t, r.Refreshed)
				assert.Equal(t, int64(12), r.RunID)
			},
		},
		{
			name:    "refresh success",
			refresh: true,
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RefreshValidators, mock.Anything, mock.Anything).
					Return(&RefreshValidatorsResult{Validators: 1500}, nil)
				env.OnActivity(activities.RunAnalysis, mock.Anything, mock.Anything).Return(analysisOK, nil)
				env.OnActivity(activities.SaveReport, mock.Anything, mock.Anything).Return(&SaveReportResult{Skipped: true}, nil)
				env.OnActivity(activities.PublishReport, mock.Anything, mock.Anything).Return(&PublishReportResult{Skipped: true}, nil)
			},
			validateResult: func(t *testing.T, r *AnalyzeWorkflowResult) {
				assert.True(t, r.Refreshed)
				assert.Zero(t, r.RunID)
				assert.Zero(t, r.Published)
			},
		},
		{
			name: "analysis failure",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RunAnalysis, mock.Anything, mock.Anything).
					Return(nil, errors.New("missing inputs"))
			},
			expectedError: true,
		},
		{
			name: "save failure",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RunAnalysis, mock.Anything, mock.Anything).Return(analysisOK, nil)
				env.OnActivity(activities.SaveReport, mock.Anything, mock.Anything).
					Return(nil, errors.New("database down"))
			},
			expectedError: true,
		},
		{
			name: "publish failure is tolerated",
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RunAnalysis, mock.Anything, mock.Anything).Return(analysisOK, nil)
				env.OnActivity(activities.SaveReport, mock.Anything, mock.Anything).Return(&SaveReportResult{RunID: 13}, nil)
				env.OnActivity(activities.PublishReport, mock.Anything, mock.Anything).
					Return(nil, errors.New("nats unavailable"))
			},
			validateResult: func(t *testing.T, r *AnalyzeWorkflowResult) {
				assert.Equal(t, int64(13), r.RunID)
				assert.Zero(t, r.Published)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.RefreshValidators)
			env.RegisterActivity(activities.RunAnalysis)
			env.RegisterActivity(activities.SaveReport)
			env.RegisterActivity(activities.PublishReport)
			tt.mockActivities(env, activities)

			in := input
			in.RefreshValidators = tt.refresh
			env.ExecuteWorkflow(AnalyzeWorkflow, in)

			require.True(t, env.IsWorkflowCompleted())
			if tt.expectedError {
				assert.Error(t, env.GetWorkflowError())
				return
			}

			require.NoError(t, env.GetWorkflowError())
			var result AnalyzeWorkflowResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}
