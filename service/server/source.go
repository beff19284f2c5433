package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/sybil"
)

// ReportSource supplies the most recent analysis report.
// GetLatestReport returns db.ErrNoReports when nothing has been produced yet.
type ReportSource interface {
	GetLatestReport(ctx context.Context) (*sybil.Report, error)
}

// HistorySource supplies saved runs and per-identity cluster history.
type HistorySource interface {
	ListRuns(ctx context.Context, limit int32) ([]*db.Run, error)
	ListClustersByIdentity(ctx context.Context, identity string, limit int32) ([]*db.ClusterRecord, error)
}

// FileReportSource serves the report file written by the analyze command.
// The file is re-read on every call so a new run is picked up without a restart.
type FileReportSource struct {
	Path string
}

// GetLatestReport reads the report file.
func (f FileReportSource) GetLatestReport(ctx context.Context) (*sybil.Report, error) {
	if _, err := os.Stat(f.Path); errors.Is(err, os.ErrNotExist) {
		return nil, db.ErrNoReports
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat report %s: %w", f.Path, err)
	}
	return sybil.ReadReportFile(f.Path)
}
