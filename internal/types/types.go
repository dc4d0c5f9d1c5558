package types

import "time"

// UploadMode selects how a file's bytes reach object storage.
type UploadMode string

const (
	ModeSimple    UploadMode = "simple"
	ModeMultipart UploadMode = "multipart"
)

// BatchStatus is the lifecycle state of a batch or chunk record.
// Transitions are monotonic: queued -> processing -> terminal.
type BatchStatus string

const (
	BatchQueued         BatchStatus = "queued"
	BatchProcessing     BatchStatus = "processing"
	BatchCompleted      BatchStatus = "completed"
	BatchPartialFailure BatchStatus = "partial_failure"
	BatchFailed         BatchStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchPartialFailure || s == BatchFailed
}

// FileDescriptor describes one file a caller wants to upload.
// A bare filename from the client is normalized to size 0 and
// application/octet-stream at the HTTP boundary.
type FileDescriptor struct {
	Filename    string `json:"filename" validate:"required"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"hash,omitempty"`
}

// UploadPlan is the strategy chosen for a single file.
type UploadPlan struct {
	Mode       UploadMode `json:"mode"`
	PartSize   int64      `json:"part_size,omitempty"`
	TotalParts int        `json:"total_parts,omitempty"`
}

// PartGrant is a time-limited write authorization for one multipart segment.
type PartGrant struct {
	PartNumber int    `json:"part_number"`
	UploadURL  string `json:"upload_url"`
}

// FileGrant is the per-file result of authorization issuance. On success
// either UploadURL (simple) or UploadID+Parts (multipart) is populated;
// Error is set instead when issuance failed for this file.
type FileGrant struct {
	Filename    string      `json:"filename"`
	StorageKey  string      `json:"storage_key,omitempty"`
	Mode        UploadMode  `json:"mode,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	UploadURL   string      `json:"upload_url,omitempty"`
	UploadID    string      `json:"upload_id,omitempty"`
	PartSize    int64       `json:"part_size,omitempty"`
	Parts       []PartGrant `json:"parts,omitempty"`
	ExpiresAt   int64       `json:"expires_at,omitempty"`
	Duplicate   bool        `json:"duplicate,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// CompletedPart describes one uploaded segment when finalizing a
// multipart session.
type CompletedPart struct {
	PartNumber int    `json:"part_number" validate:"required,min=1"`
	ETag       string `json:"etag" validate:"required"`
}

// ObjectStat is object-storage metadata returned on lookup.
type ObjectStat struct {
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
	LastModified time.Time `json:"last_modified"`
}

// BatchRecord tracks one master batch or one chunk batch. The two share a
// shape; a chunk carries ParentBatchID, a master carries ChunkIDs.
type BatchRecord struct {
	BatchID         string      `json:"batch_id"`
	OwnerID         string      `json:"owner_id"`
	ParentBatchID   string      `json:"parent_batch_id,omitempty"`
	Status          BatchStatus `json:"status"`
	TotalFiles      int         `json:"total_files"`
	ProcessedFiles  int         `json:"processed_files"`
	DuplicateFiles  int         `json:"duplicate_files,omitempty"`
	IssuedGrants    int         `json:"issued_grants,omitempty"`
	FileNames       []string    `json:"file_names,omitempty"`
	ChunkIDs        []string    `json:"chunk_ids,omitempty"`
	ChunkIndex      int         `json:"chunk_index,omitempty"`
	TotalChunks     int         `json:"total_chunks,omitempty"`
	CompletedChunks int         `json:"completed_chunks,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// IsMaster reports whether the record is a master batch with queued chunks.
func (r *BatchRecord) IsMaster() bool {
	return r.ParentBatchID == "" && len(r.ChunkIDs) > 0
}

// ProgressPct computes completion as a percentage at read time; it is never
// persisted.
func (r *BatchRecord) ProgressPct() float64 {
	if r.TotalFiles == 0 {
		return 0
	}
	return float64(r.ProcessedFiles) / float64(r.TotalFiles) * 100
}

// ChunkMessage is the queue payload dispatched once per chunk of a large
// batch. Delivery is at-least-once; the consumer must be re-entrant.
type ChunkMessage struct {
	ChunkBatchID  string           `json:"chunk_batch_id"`
	MasterBatchID string           `json:"master_batch_id"`
	OwnerID       string           `json:"owner_id"`
	Files         []FileDescriptor `json:"files"`
	ChunkIndex    int              `json:"chunk_index"`
	TotalChunks   int              `json:"total_chunks"`
}
