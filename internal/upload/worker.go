package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediakeep/upload-service/internal/types"
)

// Worker processes one queued chunk per message. Processing is re-entrant:
// the queue delivers at least once, so a chunk already at a terminal state
// short-circuits and the parent's counters are never double-counted.
type Worker struct {
	store    BatchStore
	dedup    DedupIndex
	issuer   *Issuer
	agg      *Aggregator
	notifier Notifier

	chunkGrantTTL time.Duration
	now           func() time.Time
}

// NewWorker wires a chunk worker. notifier may be nil.
func NewWorker(store BatchStore, dedup DedupIndex, issuer *Issuer, agg *Aggregator, notifier Notifier) *Worker {
	return &Worker{
		store:         store,
		dedup:         dedup,
		issuer:        issuer,
		agg:           agg,
		notifier:      notifier,
		chunkGrantTTL: DefaultChunkGrantTTL,
		now:           time.Now,
	}
}

// SetChunkGrantTTL overrides the expiry used for chunk-flow grants.
func (w *Worker) SetChunkGrantTTL(ttl time.Duration) {
	if ttl > 0 {
		w.chunkGrantTTL = ttl
	}
}

// ProcessChunk handles one chunk message to a terminal state. Per-file grant
// failures never fail the chunk: a file whose issuance failed still counts
// as processed because a terminal outcome was recorded for it. A non-nil
// return means the message should be redelivered.
func (w *Worker) ProcessChunk(ctx context.Context, msg *types.ChunkMessage) error {
	if msg.ChunkBatchID == "" {
		return fmt.Errorf("%w: chunk message without chunk_batch_id", ErrInvalidInput)
	}

	rec, err := w.store.Get(ctx, msg.ChunkBatchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Expired record: the work is moot, drop the message.
			slog.Warn("chunk record not found, dropping message",
				slog.String("chunk_batch_id", msg.ChunkBatchID))
			return nil
		}
		return fmt.Errorf("failed to load chunk record: %w", err)
	}

	if rec.Status.Terminal() {
		slog.Info("chunk already terminal, skipping redelivery",
			slog.String("chunk_batch_id", rec.BatchID),
			slog.String("status", string(rec.Status)))
		w.aggregate(ctx, msg.MasterBatchID)
		return nil
	}

	if _, err := w.store.Update(ctx, msg.ChunkBatchID, func(r *types.BatchRecord) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = types.BatchProcessing
		r.UpdatedAt = w.now()
		return nil
	}); err != nil {
		return fmt.Errorf("failed to mark chunk processing: %w", err)
	}

	part := FilterDuplicates(ctx, w.dedup, msg.OwnerID, msg.Files)
	grants := w.issuer.Issue(ctx, msg.OwnerID, part.Unique, w.chunkGrantTTL)
	issued := countIssued(grants)

	rec, err = w.store.Update(ctx, msg.ChunkBatchID, func(r *types.BatchRecord) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = types.BatchCompleted
		r.ProcessedFiles = r.TotalFiles
		r.DuplicateFiles = len(part.Duplicate)
		r.IssuedGrants = issued
		r.UpdatedAt = w.now()
		return nil
	})
	if err != nil {
		w.failChunk(ctx, msg.ChunkBatchID, err)
		return fmt.Errorf("failed to complete chunk: %w", err)
	}

	slog.Info("chunk completed",
		slog.String("chunk_batch_id", rec.BatchID),
		slog.Int("processed_files", rec.ProcessedFiles),
		slog.Int("issued_grants", issued),
		slog.Int("duplicates", len(part.Duplicate)))

	w.aggregate(ctx, msg.MasterBatchID)
	return nil
}

func (w *Worker) aggregate(ctx context.Context, masterBatchID string) {
	if masterBatchID == "" || w.agg == nil {
		return
	}
	master, err := w.agg.Recompute(ctx, masterBatchID)
	if err != nil {
		slog.Error("failed to aggregate master batch",
			slog.String("master_batch_id", masterBatchID),
			slog.String("error", err.Error()))
		return
	}
	if master != nil && w.notifier != nil {
		w.notifier.PublishBatchProgress(master.OwnerID, master)
	}
}

func (w *Worker) failChunk(ctx context.Context, chunkID string, cause error) {
	if _, err := w.store.Update(ctx, chunkID, func(r *types.BatchRecord) error {
		if r.Status.Terminal() {
			return nil
		}
		r.Status = types.BatchFailed
		r.ErrorMessage = cause.Error()
		r.UpdatedAt = w.now()
		return nil
	}); err != nil {
		slog.Error("failed to mark chunk failed",
			slog.String("chunk_batch_id", chunkID),
			slog.String("error", err.Error()))
	}
}
