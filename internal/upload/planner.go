package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mediakeep/upload-service/internal/types"
)

// Default batch-planning thresholds.
const (
	DefaultBatchThreshold = 10
	DefaultChunkSize      = 50
	DefaultRecordTTL      = 24 * time.Hour
	DefaultDirectGrantTTL = time.Hour
	DefaultChunkGrantTTL  = 15 * time.Minute
)

// Planner decides how a submitted batch is processed: small batches run
// inline and return grants synchronously; large batches are split into
// fixed-size chunks dispatched through the queue and tracked by a master
// record.
type Planner struct {
	store    BatchStore
	queue    QueuePublisher
	dedup    DedupIndex
	issuer   *Issuer
	notifier Notifier

	batchThreshold int
	chunkSize      int
	directGrantTTL time.Duration

	now   func() time.Time
	newID func() string
}

// NewPlanner wires a Planner with default thresholds. notifier may be nil.
func NewPlanner(store BatchStore, queue QueuePublisher, dedup DedupIndex, issuer *Issuer, notifier Notifier) *Planner {
	return &Planner{
		store:          store,
		queue:          queue,
		dedup:          dedup,
		issuer:         issuer,
		notifier:       notifier,
		batchThreshold: DefaultBatchThreshold,
		chunkSize:      DefaultChunkSize,
		directGrantTTL: DefaultDirectGrantTTL,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}
}

// SetThresholds overrides the inline/chunked decision point and chunk size.
func (p *Planner) SetThresholds(batchThreshold, chunkSize int) {
	if batchThreshold > 0 {
		p.batchThreshold = batchThreshold
	}
	if chunkSize > 0 {
		p.chunkSize = chunkSize
	}
}

// SetDirectGrantTTL overrides the expiry used for inline grants.
func (p *Planner) SetDirectGrantTTL(ttl time.Duration) {
	if ttl > 0 {
		p.directGrantTTL = ttl
	}
}

// InitiateResult is what the caller gets back from batch initiation. Grants
// are present only on the inline path; chunked batches are polled instead.
type InitiateResult struct {
	Record            *types.BatchRecord
	Grants            []types.FileGrant
	ChunkIDs          []string
	DuplicatesSkipped int
}

// Initiate processes a batch submission. Fewer files than the batch
// threshold run inline: dedup gate, strategy selection, and grant issuance
// happen synchronously and a single completed record is written holding only
// the counters (grant payloads are never persisted). At or above the
// threshold the batch is chunked and queued; the master record is written
// with status processing before the call returns.
func (p *Planner) Initiate(ctx context.Context, ownerID string, files []types.FileDescriptor) (*InitiateResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files provided", ErrInvalidInput)
	}

	if len(files) < p.batchThreshold {
		return p.initiateInline(ctx, ownerID, files)
	}
	return p.initiateChunked(ctx, ownerID, files)
}

func (p *Planner) initiateInline(ctx context.Context, ownerID string, files []types.FileDescriptor) (*InitiateResult, error) {
	part := FilterDuplicates(ctx, p.dedup, ownerID, files)

	grants := p.issuer.Issue(ctx, ownerID, part.Unique, p.directGrantTTL)
	for _, f := range part.Duplicate {
		grants = append(grants, types.FileGrant{Filename: f.Filename, Duplicate: true})
	}

	now := p.now()
	rec := &types.BatchRecord{
		BatchID:        p.newID(),
		OwnerID:        ownerID,
		Status:         types.BatchCompleted,
		TotalFiles:     len(files),
		ProcessedFiles: len(files),
		DuplicateFiles: len(part.Duplicate),
		IssuedGrants:   countIssued(grants),
		FileNames:      fileNames(files),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := p.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create batch record: %w", err)
	}

	slog.Info("inline batch completed",
		slog.String("batch_id", rec.BatchID),
		slog.Int("total_files", rec.TotalFiles),
		slog.Int("duplicates", rec.DuplicateFiles))

	return &InitiateResult{
		Record:            rec,
		Grants:            grants,
		DuplicatesSkipped: len(part.Duplicate),
	}, nil
}

func (p *Planner) initiateChunked(ctx context.Context, ownerID string, files []types.FileDescriptor) (*InitiateResult, error) {
	chunks := splitChunks(files, p.chunkSize)

	chunkIDs := make([]string, len(chunks))
	for i := range chunks {
		chunkIDs[i] = p.newID()
	}

	now := p.now()
	master := &types.BatchRecord{
		BatchID:     p.newID(),
		OwnerID:     ownerID,
		Status:      types.BatchProcessing,
		TotalFiles:  len(files),
		ChunkIDs:    chunkIDs,
		TotalChunks: len(chunks),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// The master exists before any chunk message is visible, so a worker
	// completing instantly still finds it.
	if err := p.store.Create(ctx, master); err != nil {
		return nil, fmt.Errorf("failed to create master batch record: %w", err)
	}

	for i, chunk := range chunks {
		chunkRec := &types.BatchRecord{
			BatchID:       chunkIDs[i],
			OwnerID:       ownerID,
			ParentBatchID: master.BatchID,
			Status:        types.BatchQueued,
			TotalFiles:    len(chunk),
			FileNames:     fileNames(chunk),
			ChunkIndex:    i,
			TotalChunks:   len(chunks),
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := p.store.Create(ctx, chunkRec); err != nil {
			p.failChunk(ctx, chunkRec, err)
			continue
		}

		msg := &types.ChunkMessage{
			ChunkBatchID:  chunkIDs[i],
			MasterBatchID: master.BatchID,
			OwnerID:       ownerID,
			Files:         chunk,
			ChunkIndex:    i,
			TotalChunks:   len(chunks),
		}

		if err := p.queue.PublishChunk(ctx, msg); err != nil {
			// Containment: one undispatchable chunk must not abort its
			// siblings. The failed chunk surfaces as partial_failure.
			slog.Error("failed to publish chunk message",
				slog.String("chunk_batch_id", chunkIDs[i]),
				slog.String("error", err.Error()))
			p.failChunk(ctx, chunkRec, err)
		}
	}

	if p.notifier != nil {
		p.notifier.PublishBatchProgress(ownerID, master)
	}

	slog.Info("chunked batch queued",
		slog.String("batch_id", master.BatchID),
		slog.Int("total_files", master.TotalFiles),
		slog.Int("total_chunks", master.TotalChunks))

	return &InitiateResult{Record: master, ChunkIDs: chunkIDs}, nil
}

// failChunk persists a terminal failed state for a chunk. Every id listed in
// master.ChunkIDs must end up with a terminal record, or the roll-up can
// never leave processing; when the chunk record was never written, a fresh
// failed record is created in its place.
func (p *Planner) failChunk(ctx context.Context, chunkRec *types.BatchRecord, cause error) {
	_, err := p.store.Update(ctx, chunkRec.BatchID, func(rec *types.BatchRecord) error {
		if rec.Status.Terminal() {
			return nil
		}
		rec.Status = types.BatchFailed
		rec.ErrorMessage = cause.Error()
		rec.UpdatedAt = p.now()
		return nil
	})
	if err == nil {
		return
	}

	if errors.Is(err, ErrNotFound) {
		failed := *chunkRec
		failed.Status = types.BatchFailed
		failed.ErrorMessage = cause.Error()
		failed.UpdatedAt = p.now()
		createErr := p.store.Create(ctx, &failed)
		if createErr == nil {
			return
		}
		err = createErr
	}

	slog.Error("failed to mark chunk failed",
		slog.String("chunk_batch_id", chunkRec.BatchID),
		slog.String("error", err.Error()))
}

func splitChunks(files []types.FileDescriptor, size int) [][]types.FileDescriptor {
	var chunks [][]types.FileDescriptor
	for start := 0; start < len(files); start += size {
		end := start + size
		if end > len(files) {
			end = len(files)
		}
		chunks = append(chunks, files[start:end])
	}
	return chunks
}

func fileNames(files []types.FileDescriptor) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names
}

func countIssued(grants []types.FileGrant) int {
	n := 0
	for _, g := range grants {
		if g.Error == "" && !g.Duplicate {
			n++
		}
	}
	return n
}
