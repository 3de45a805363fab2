package simulation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/empowersim/empower/internal/objectstore"
)

// Poller counts result artifacts to decide whether a merge stage may start.
// It never retries; re-check cadence belongs to the task queue.
type Poller struct {
	store  objectstore.Store
	bucket string
	logger *slog.Logger
}

// NewPoller creates a poller over the results bucket.
func NewPoller(store objectstore.Store, bucket string, logger *slog.Logger) *Poller {
	return &Poller{store: store, bucket: bucket, logger: logger}
}

// CheckComplete lists prefix and reports whether at least expected objects
// exist under it.
func (p *Poller) CheckComplete(ctx context.Context, prefix string, expected int) (bool, int, error) {
	keys, err := p.store.List(ctx, p.bucket, prefix)
	if err != nil {
		return false, 0, fmt.Errorf("list results under %s: %w", prefix, err)
	}
	found := len(keys)
	if found < expected {
		p.logger.Info("results incomplete", "prefix", prefix, "found", found, "expected", expected)
		return false, found, nil
	}
	return true, found, nil
}
