// Package upload implements the batch-upload orchestration engine: strategy
// selection, storage-key generation, dedup gating, write-grant issuance,
// batch planning and chunking, re-entrant chunk processing, and master-batch
// progress aggregation.
package upload

import (
	"context"
	"time"

	"github.com/mediakeep/upload-service/internal/types"
)

// ObjectStore is the object-storage collaborator. File bytes never pass
// through this service; the store only hands out time-limited write grants
// and answers metadata lookups.
type ObjectStore interface {
	// PresignedPut returns a time-limited URL authorizing a single PUT of
	// the object at key.
	PresignedPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)

	// CreateMultipartSession starts a multipart session and returns the
	// opaque session id assigned by storage.
	CreateMultipartSession(ctx context.Context, key, contentType string) (string, error)

	// PresignPart returns a time-limited URL authorizing the PUT of one
	// part of an open multipart session.
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, expiry time.Duration) (string, error)

	// CompleteMultipartSession finalizes a session from its part ETags and
	// returns the resulting object ETag.
	CompleteMultipartSession(ctx context.Context, key, uploadID string, parts []types.CompletedPart) (string, error)

	// AbortMultipartSession abandons an in-flight session.
	AbortMultipartSession(ctx context.Context, key, uploadID string) error

	// Stat returns object metadata, or ErrNotFound when the key is absent.
	Stat(ctx context.Context, key string) (types.ObjectStat, error)
}

// DedupIndex answers whether content already exists for an owner. It is
// owned by the media-metadata collaborator and read-only here.
type DedupIndex interface {
	Exists(ctx context.Context, ownerID, contentHash string) (bool, error)
}

// BatchStore persists BatchRecords. Get returns ErrNotFound for absent or
// expired ids. Update applies mutate to a fresh copy of the record under an
// optimistic-concurrency guard and retries on conflicting writers.
type BatchStore interface {
	Create(ctx context.Context, rec *types.BatchRecord) error
	Get(ctx context.Context, batchID string) (*types.BatchRecord, error)
	Update(ctx context.Context, batchID string, mutate func(*types.BatchRecord) error) (*types.BatchRecord, error)
}

// QueuePublisher dispatches one message per chunk of a large batch.
type QueuePublisher interface {
	PublishChunk(ctx context.Context, msg *types.ChunkMessage) error
}

// Notifier pushes advisory progress events to a connected owner. All engine
// components tolerate a nil Notifier.
type Notifier interface {
	PublishBatchProgress(ownerID string, rec *types.BatchRecord)
}
