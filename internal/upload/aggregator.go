package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediakeep/upload-service/internal/types"
)

// Aggregator rolls chunk outcomes up into the master record. The roll-up is
// read-recompute-write under the store's optimistic-concurrency guard and is
// re-invoked after every chunk completion, so a race lost by one invocation
// is corrected by the next; the roll-up converges once all chunks are
// terminal.
type Aggregator struct {
	store BatchStore
	now   func() time.Time
}

// NewAggregator creates an Aggregator over the batch store.
func NewAggregator(store BatchStore) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// Recompute rereads the master's chunk records and derives its status:
// completed when every chunk completed, partial_failure when any chunk
// failed, processing otherwise. A master that is already terminal is a fixed
// point and is returned unchanged. A missing master (expired) is not an
// error; Recompute returns nil.
func (a *Aggregator) Recompute(ctx context.Context, masterBatchID string) (*types.BatchRecord, error) {
	master, err := a.store.Get(ctx, masterBatchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Warn("master batch not found during aggregation",
				slog.String("master_batch_id", masterBatchID))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load master batch: %w", err)
	}

	var (
		completedChunks int
		failedChunks    int
		processedFiles  int
		duplicateFiles  int
		issuedGrants    int
	)

	for _, chunkID := range master.ChunkIDs {
		chunk, err := a.store.Get(ctx, chunkID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				slog.Warn("chunk record missing during aggregation",
					slog.String("chunk_batch_id", chunkID))
				continue
			}
			return nil, fmt.Errorf("failed to load chunk record: %w", err)
		}

		switch chunk.Status {
		case types.BatchCompleted:
			completedChunks++
		case types.BatchFailed:
			failedChunks++
		}
		processedFiles += chunk.ProcessedFiles
		duplicateFiles += chunk.DuplicateFiles
		issuedGrants += chunk.IssuedGrants
	}

	status := types.BatchProcessing
	if completedChunks == master.TotalChunks {
		status = types.BatchCompleted
	} else if failedChunks > 0 {
		status = types.BatchPartialFailure
	}

	updated, err := a.store.Update(ctx, masterBatchID, func(r *types.BatchRecord) error {
		if r.Status == types.BatchCompleted {
			// Terminal fixed point; later invocations leave it unchanged.
			return nil
		}
		r.Status = status
		r.ProcessedFiles = processedFiles
		r.DuplicateFiles = duplicateFiles
		r.IssuedGrants = issuedGrants
		r.CompletedChunks = completedChunks
		r.UpdatedAt = a.now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update master batch: %w", err)
	}

	slog.Info("master batch aggregated",
		slog.String("master_batch_id", masterBatchID),
		slog.String("status", string(updated.Status)),
		slog.Int("completed_chunks", updated.CompletedChunks),
		slog.Int("total_chunks", updated.TotalChunks),
		slog.Int("processed_files", updated.ProcessedFiles))

	return updated, nil
}
