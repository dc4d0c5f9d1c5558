package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenBucket rate-limits grant issuance per owner and action. State lives
// in Redis so limits hold across stateless service instances.
type TokenBucket struct {
	redis    *redis.Client
	capacity int64
	refill   int64
	window   time.Duration
}

// NewTokenBucket creates a bucket holding capacity tokens, refilled at
// refillRate per minute.
func NewTokenBucket(redisClient *redis.Client, capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		redis:    redisClient,
		capacity: capacity,
		refill:   refillRate,
		window:   time.Minute,
	}
}

func bucketKey(ownerID, action string) string {
	return fmt.Sprintf("ratelimit:%s:%s", ownerID, action)
}

// Refill-then-consume, atomic in Redis. ARGV[5] selects consume (1) or
// peek (0).
const bucketScript = `
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local refill_rate = tonumber(ARGV[2])
	local window = tonumber(ARGV[3])
	local now = tonumber(ARGV[4])
	local consume = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill')
	local tokens = tonumber(state[1]) or capacity
	local last_refill = tonumber(state[2]) or now

	local elapsed = now - last_refill
	local refilled = math.floor((elapsed / window) * refill_rate)
	if refilled > 0 then
		tokens = math.min(capacity, tokens + refilled)
		last_refill = now
	end

	if consume == 0 then
		return tokens
	end

	local allowed = 0
	if tokens > 0 then
		tokens = tokens - 1
		allowed = 1
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_refill', last_refill)
	redis.call('EXPIRE', key, window * 2)
	return allowed
`

// Allow consumes one token if available.
func (tb *TokenBucket) Allow(ctx context.Context, ownerID, action string) (bool, error) {
	result, err := tb.eval(ctx, ownerID, action, 1)
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return result == 1, nil
}

// GetRemaining returns the current token count without consuming.
func (tb *TokenBucket) GetRemaining(ctx context.Context, ownerID, action string) (int64, error) {
	result, err := tb.eval(ctx, ownerID, action, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to get remaining tokens: %w", err)
	}
	return result, nil
}

// Reset clears the bucket for an owner action.
func (tb *TokenBucket) Reset(ctx context.Context, ownerID, action string) error {
	return tb.redis.Del(ctx, bucketKey(ownerID, action)).Err()
}

func (tb *TokenBucket) eval(ctx context.Context, ownerID, action string, consume int) (int64, error) {
	now := time.Now().Unix()
	result, err := tb.redis.Eval(ctx, bucketScript, []string{bucketKey(ownerID, action)},
		tb.capacity, tb.refill, int64(tb.window.Seconds()), now, consume).Result()
	if err != nil {
		return 0, err
	}

	value, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result type from rate limit script")
	}
	return value, nil
}
