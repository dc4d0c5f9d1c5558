// Package batchstore persists batch and chunk records in Redis as JSON
// values with a record TTL, and provides the optimistic-concurrency update
// the progress roll-up relies on.
package batchstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mediakeep/upload-service/internal/types"
	"github.com/mediakeep/upload-service/internal/upload"
)

// Key pattern for batch records.
const batchKeyPrefix = "batch:"

// Records expire 24 hours after creation; queries for an expired record
// report not found.
const DefaultRecordTTL = 24 * time.Hour

// How often a conflicting concurrent writer is retried before giving up.
const maxUpdateRetries = 5

// Store is a Redis-backed upload.BatchStore.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a Store with the default 24h record TTL.
func New(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, ttl: DefaultRecordTTL}
}

// NewWithTTL creates a Store with an explicit record TTL.
func NewWithTTL(redisClient *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &Store{redis: redisClient, ttl: ttl}
}

func batchKey(batchID string) string {
	return batchKeyPrefix + batchID
}

// Create writes a new record. Batch ids are assigned once and never reused,
// so an existing key is an error.
func (s *Store) Create(ctx context.Context, rec *types.BatchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal batch record: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, batchKey(rec.BatchID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store batch record: %w", err)
	}
	if !ok {
		return fmt.Errorf("batch id %s already exists", rec.BatchID)
	}
	return nil
}

// Get returns the record, or upload.ErrNotFound when absent or expired.
func (s *Store) Get(ctx context.Context, batchID string) (*types.BatchRecord, error) {
	data, err := s.redis.Get(ctx, batchKey(batchID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("batch %s: %w", batchID, upload.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch record: %w", err)
	}

	var rec types.BatchRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch record: %w", err)
	}
	return &rec, nil
}

// Update applies mutate to a fresh read of the record inside a WATCH
// transaction, so two chunk completions racing to update the same master
// never lose each other's write; the loser retries against the new value.
// The record's remaining TTL is preserved.
func (s *Store) Update(ctx context.Context, batchID string, mutate func(*types.BatchRecord) error) (*types.BatchRecord, error) {
	key := batchKey(batchID)
	var updated *types.BatchRecord

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("batch %s: %w", batchID, upload.ErrNotFound)
		}
		if err != nil {
			return err
		}

		var rec types.BatchRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return fmt.Errorf("failed to unmarshal batch record: %w", err)
		}

		if err := mutate(&rec); err != nil {
			return err
		}

		out, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal batch record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = &rec
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.redis.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("failed to update batch record: %w", err)
	}

	return nil, fmt.Errorf("failed to update batch %s after %d retries", batchID, maxUpdateRetries)
}
