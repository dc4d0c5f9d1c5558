package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/mediakeep/upload-service/internal/types"
)

// In-memory collaborators used across the engine tests. The store clones
// records on every read and write so tests observe the same aliasing rules
// as the real redis-backed store.

type fakeStore struct {
	records map[string]*types.BatchRecord

	createCalls     int
	failCreateCalls map[int]error // by 1-based call number
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*types.BatchRecord)}
}

func cloneRecord(rec *types.BatchRecord) *types.BatchRecord {
	c := *rec
	c.FileNames = append([]string(nil), rec.FileNames...)
	c.ChunkIDs = append([]string(nil), rec.ChunkIDs...)
	return &c
}

func (s *fakeStore) Create(_ context.Context, rec *types.BatchRecord) error {
	s.createCalls++
	if err, ok := s.failCreateCalls[s.createCalls]; ok {
		return err
	}
	if _, ok := s.records[rec.BatchID]; ok {
		return fmt.Errorf("batch %s already exists", rec.BatchID)
	}
	s.records[rec.BatchID] = cloneRecord(rec)
	return nil
}

func (s *fakeStore) Get(_ context.Context, batchID string) (*types.BatchRecord, error) {
	rec, ok := s.records[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (s *fakeStore) Update(_ context.Context, batchID string, mutate func(*types.BatchRecord) error) (*types.BatchRecord, error) {
	rec, ok := s.records[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	c := cloneRecord(rec)
	if err := mutate(c); err != nil {
		return nil, err
	}
	s.records[batchID] = cloneRecord(c)
	return c, nil
}

type fakeObjectStore struct {
	putCalls     int
	sessionCalls int
	partCalls    int

	putContentTypes []string

	failPuts     map[string]error // keyed by filename-bearing storage key suffix
	failSessions bool
	failParts    bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{failPuts: make(map[string]error)}
}

func (o *fakeObjectStore) PresignedPut(_ context.Context, key, contentType string, _ time.Duration) (string, error) {
	o.putCalls++
	o.putContentTypes = append(o.putContentTypes, contentType)
	for suffix, err := range o.failPuts {
		if len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix {
			return "", err
		}
	}
	return "https://storage.local/put/" + key, nil
}

func (o *fakeObjectStore) CreateMultipartSession(_ context.Context, key, _ string) (string, error) {
	o.sessionCalls++
	if o.failSessions {
		return "", fmt.Errorf("session refused")
	}
	return "session-" + key, nil
}

func (o *fakeObjectStore) PresignPart(_ context.Context, key, uploadID string, partNumber int, _ time.Duration) (string, error) {
	o.partCalls++
	if o.failParts {
		return "", fmt.Errorf("part presign refused")
	}
	return fmt.Sprintf("https://storage.local/part/%s/%s/%d", key, uploadID, partNumber), nil
}

func (o *fakeObjectStore) CompleteMultipartSession(_ context.Context, _, _ string, parts []types.CompletedPart) (string, error) {
	return fmt.Sprintf("etag-%d", len(parts)), nil
}

func (o *fakeObjectStore) AbortMultipartSession(_ context.Context, _, _ string) error {
	return nil
}

func (o *fakeObjectStore) Stat(_ context.Context, key string) (types.ObjectStat, error) {
	return types.ObjectStat{Size: 42, ETag: "etag-" + key}, nil
}

type fakeQueue struct {
	messages  []*types.ChunkMessage
	failIndex map[int]error // by chunk index
}

func (q *fakeQueue) PublishChunk(_ context.Context, msg *types.ChunkMessage) error {
	if err, ok := q.failIndex[msg.ChunkIndex]; ok {
		return err
	}
	q.messages = append(q.messages, msg)
	return nil
}

type fakeDedup struct {
	existing map[string]bool // "owner|hash"
	err      error
}

func (d *fakeDedup) Exists(_ context.Context, ownerID, contentHash string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.existing[ownerID+"|"+contentHash], nil
}
