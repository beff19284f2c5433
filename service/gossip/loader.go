package gossip

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
)

// Loader reads snapshot files concurrently and hands them back in input order.
// Reading is the only parallel step; callers fold the result sequentially.
type Loader struct {
	concurrency int
	logger      *slog.Logger
}

// NewLoader creates a Loader that reads at most concurrency files at once.
func NewLoader(concurrency int, logger *slog.Logger) *Loader {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{concurrency: concurrency, logger: logger}
}

// Load reads every path and returns the snapshots in the same order as paths.
// The first read or parse error aborts the load.
func (l *Loader) Load(ctx context.Context, paths []string) ([]*Snapshot, error) {
	snapshots := make([]*Snapshot, len(paths))
	errs := make([]error, len(paths))

	pool := pond.NewPool(l.concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i, path := range paths {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			snap, err := ReadSnapshotFile(path)
			if err != nil {
				errs[i] = err
				return
			}
			snapshots[i] = snap
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load gossip snapshots: %w", err)
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	l.logger.Debug("loaded gossip snapshots",
		"count", len(snapshots),
		"concurrency", l.concurrency,
	)
	return snapshots, nil
}
