package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/sybilwatch/service/sybil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir       string
	gossipDir string
	active    string
	jito      string
	sfdp      string
	output    string
}

func (f fixture) inputArgs() []string {
	return []string{
		"--gossip-dir", f.gossipDir,
		"--active-validators", f.active,
		"--jito-validators", f.jito,
		"--sfdp-participants", f.sfdp,
		"--output", f.output,
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newFixture: 1.1.1.1 hosts A then B (both staked), 2.2.2.2 hosts B then an
// unstaked C.
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:       dir,
		gossipDir: filepath.Join(dir, "gossip"),
		active:    filepath.Join(dir, "active_validators.json"),
		jito:      filepath.Join(dir, "jito_validators.json"),
		sfdp:      filepath.Join(dir, "sfdp_participants.json"),
		output:    filepath.Join(dir, "report.json"),
	}
	require.NoError(t, os.Mkdir(f.gossipDir, 0o755))

	writeTestFile(t, f.active, `{"validators": [
		{"identityPubkey": "A", "voteAccountPubkey": "VA", "activatedStake": 100000000000},
		{"identityPubkey": "B", "voteAccountPubkey": "VB", "activatedStake": 50000000000},
		{"identityPubkey": "C", "voteAccountPubkey": "VC", "activatedStake": 0}
	]}`)
	writeTestFile(t, f.jito, `{"validators": [
		{"vote_account": "VA", "running_jito": true, "active_stake": 100000000000}
	]}`)
	writeTestFile(t, f.sfdp, `[{"mainnetBetaPubkey": "B", "state": "Approved"}]`)
	writeTestFile(t, filepath.Join(f.gossipDir, "t1.json"), `[
		{"identityPubkey": "A", "ipAddress": "1.1.1.1"},
		{"identityPubkey": "B", "ipAddress": "2.2.2.2"}
	]`)
	writeTestFile(t, filepath.Join(f.gossipDir, "t2.json"), `[
		{"identityPubkey": "B", "ipAddress": "1.1.1.1"},
		{"identityPubkey": "C", "ipAddress": "2.2.2.2"}
	]`)
	return f
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"sybilwatch"}, args...))
	return out.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	f := newFixture(t)
	metricsFile := filepath.Join(f.dir, "sybil.prom")

	args := append([]string{"analyze"}, f.inputArgs()...)
	args = append(args, "--metrics-file", metricsFile)
	out, err := runApp(t, args...)
	require.NoError(t, err)

	assert.Contains(t, out, "Analyzed 2 snapshots (t1.json .. t2.json)")
	assert.Contains(t, out, "1 holding 150.00 SOL")
	assert.Contains(t, out, "RANK")

	report, err := sybil.ReadReportFile(f.output)
	require.NoError(t, err)
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, []string{"A", "B"}, report.Clusters[0].StakedIdentities)
	assert.Equal(t, []string{"1.1.1.1"}, report.Clusters[0].Addresses)

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `sybil_analysis_runs_total{status="success"} 1`)
}

func TestApp_GlobalFlags(t *testing.T) {
	out, err := runApp(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--verbose")
	assert.Contains(t, out, "--version")

	out, err = runApp(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "sybilwatch version")

	f := newFixture(t)
	args := append([]string{"--verbose", "analyze"}, f.inputArgs()...)
	out, err = runApp(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 holding 150.00 SOL")
}

func TestAnalyzeCommand_JQ(t *testing.T) {
	f := newFixture(t)

	args := append([]string{"analyze"}, f.inputArgs()...)
	args = append(args, "--jq", ".clusters[0].staked_identities")
	out, err := runApp(t, args...)
	require.NoError(t, err)
	assert.JSONEq(t, `["A", "B"]`, out)
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(f *fixture)
		extra    []string
		contains string
	}{
		{
			name:     "missing gossip dir",
			mutate:   func(f *fixture) { f.gossipDir = filepath.Join(f.dir, "nope") },
			contains: "missing inputs",
		},
		{
			name:     "missing reference file",
			mutate:   func(f *fixture) { f.sfdp = filepath.Join(f.dir, "nope.json") },
			contains: "missing inputs",
		},
		{
			name:     "bad jq filter",
			mutate:   func(f *fixture) {},
			extra:    []string{"--jq", ".["},
			contains: "failed to parse jq filter",
		},
		{
			name:     "publish without nats",
			mutate:   func(f *fixture) {},
			extra:    []string{"--publish"},
			contains: "nats-url is required",
		},
		{
			name:     "save without database",
			mutate:   func(f *fixture) {},
			extra:    []string{"--save"},
			contains: "database-url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NATS_URL", "")
			t.Setenv("DATABASE_URL", "")
			f := newFixture(t)
			tt.mutate(&f)

			args := append([]string{"analyze"}, f.inputArgs()...)
			args = append(args, tt.extra...)
			_, err := runApp(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)

			_, statErr := os.Stat(f.output)
			assert.True(t, os.IsNotExist(statErr), "no report may be written on input errors")
		})
	}
}

func TestGraphCommand(t *testing.T) {
	f := newFixture(t)
	graphFile := filepath.Join(f.dir, "graph.json")

	args := append([]string{"graph"}, f.inputArgs()...)
	args = append(args, "--graph-output", graphFile)
	out, err := runApp(t, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 nodes and 1 edges")

	data, err := os.ReadFile(graphFile)
	require.NoError(t, err)
	var graph sybil.Graph
	require.NoError(t, json.Unmarshal(data, &graph))
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "1.1.1.1", graph.Edges[0].Label)
}

func TestReportCommand(t *testing.T) {
	f := newFixture(t)
	_, err := runApp(t, append([]string{"analyze"}, f.inputArgs()...)...)
	require.NoError(t, err)

	t.Run("full document", func(t *testing.T) {
		out, err := runApp(t, "report", "--file", f.output)
		require.NoError(t, err)
		var report sybil.Report
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 1, report.ClusterCount)
	})

	t.Run("min stake filters clusters", func(t *testing.T) {
		out, err := runApp(t, "report", "--file", f.output, "--min-stake", "200", "--jq", ".clusters | length")
		require.NoError(t, err)
		assert.Equal(t, "0\n", out)
	})

	t.Run("table", func(t *testing.T) {
		out, err := runApp(t, "report", "--file", f.output, "--table")
		require.NoError(t, err)
		assert.Contains(t, out, "150.00")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runApp(t, "report", "--file", filepath.Join(f.dir, "missing.json"))
		require.Error(t, err)
	})

	t.Run("negative min stake", func(t *testing.T) {
		_, err := runApp(t, "report", "--file", f.output, "--min-stake", "-1")
		require.Error(t, err)
	})
}
