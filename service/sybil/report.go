package sybil

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Report is the document written at the end of an analysis run.
type Report struct {
	GeneratedAt           time.Time    `json:"generated_at"`
	SnapshotCount         int          `json:"snapshot_count"`
	FirstSnapshot         string       `json:"first_snapshot"`
	LastSnapshot          string       `json:"last_snapshot"`
	StakedValidatorCount  int          `json:"staked_validator_count"`
	AddressCount          int          `json:"address_count"`
	FlaggedAddressCount   int          `json:"flagged_address_count"`
	CandidateCount        int          `json:"candidate_count"`
	ClusterCount          int          `json:"cluster_count"`
	TotalClusteredStakeUI float64      `json:"total_clustered_stake_ui"`
	Candidates            []*Candidate `json:"candidates"`
	Clusters              []*Cluster   `json:"clusters"`
}

// Summary is the scalar part of a Report, used where the full document is too large.
type Summary struct {
	GeneratedAt           time.Time `json:"generated_at"`
	SnapshotCount         int       `json:"snapshot_count"`
	FlaggedAddressCount   int       `json:"flagged_address_count"`
	CandidateCount        int       `json:"candidate_count"`
	ClusterCount          int       `json:"cluster_count"`
	TotalClusteredStakeUI float64   `json:"total_clustered_stake_ui"`
}

// Summary returns the scalar fields of the report.
func (r *Report) Summary() Summary {
	return Summary{
		GeneratedAt:           r.GeneratedAt,
		SnapshotCount:         r.SnapshotCount,
		FlaggedAddressCount:   r.FlaggedAddressCount,
		CandidateCount:        r.CandidateCount,
		ClusterCount:          r.ClusterCount,
		TotalClusteredStakeUI: r.TotalClusteredStakeUI,
	}
}

// ClustersAbove returns the clusters whose total stake is at least minStakeUI.
func (r *Report) ClustersAbove(minStakeUI float64) []*Cluster {
	out := make([]*Cluster, 0, len(r.Clusters))
	for _, c := range r.Clusters {
		if c.TotalStakeUI >= minStakeUI {
			out = append(out, c)
		}
	}
	return out
}

// Encode writes the report as indented JSON.
func (r *Report) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteFile writes the report to path. The document is written to a temporary
// file in the same directory and renamed, so path never holds a partial report.
func (r *Report) WriteFile(path string) error {
	return writeJSONAtomic(path, r)
}

// ReadReportFile loads a report written by WriteFile.
func ReadReportFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report %s: %w", path, err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &r, nil
}

func writeJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
