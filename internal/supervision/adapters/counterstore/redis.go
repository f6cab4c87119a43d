// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package counterstore implements the CounterStore contract: atomic
// rate-limit accounting backed by Redis. The read-modify-write is
// done inside Lua scripts so a check-and-decrement is linearizable
// even under concurrent callers sharing the same key — a Pipeline of
// separate commands (as used elsewhere in this codebase for
// non-supervision rate limiting) is not sufficient here because
// nothing stops two pipelines from interleaving between the read and
// the write.
package counterstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"guardrail/platform/internal/supervision/errcode"
)

// tokenBucketScript performs an atomic refill-then-spend of a token
// bucket stored in a Redis hash. Returns {allowed, tokens_remaining}.
const tokenBucketScript = `
local key = KEYS[1]
local requested = tonumber(ARGV[1])
local max_tokens = tonumber(ARGV[2])
local refill_rate = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local data = redis.call('HGETALL', key)
local tokens = max_tokens
local last_update = now
if #data > 0 then
    for i = 1, #data, 2 do
        if data[i] == 'tokens' then tokens = tonumber(data[i + 1])
        elseif data[i] == 'last_update' then last_update = tonumber(data[i + 1]) end
    end
    local elapsed = now - last_update
    tokens = math.min(max_tokens, tokens + (elapsed * refill_rate))
end
if tokens >= requested then
    tokens = tokens - requested
    redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
    redis.call('EXPIRE', key, 3600)
    return {1, tokens}
else
    return {0, tokens}
end
`

// slidingWindowScript performs an atomic sliding-window count-and-add
// over a Redis sorted set. Returns {allowed, remaining}.
const slidingWindowScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_size = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_start = now - window_size
redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local current_count = redis.call('ZCARD', key)
if current_count < limit then
    redis.call('ZADD', key, now, now .. ':' .. math.random())
    redis.call('EXPIRE', key, window_size + 1)
    return {1, limit - current_count - 1}
else
    return {0, 0}
end
`

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed   bool
	Remaining float64
}

// Store is the CounterStore contract.
type Store interface {
	CheckRateLimit(ctx context.Context, key string, limit float64, windowSeconds int, requested float64) (Result, error)
	CheckSlidingWindow(ctx context.Context, key string, limit float64, windowSeconds int) (Result, error)
	GetUsage(ctx context.Context, key string) (float64, error)
	Reset(ctx context.Context, key string) error
	HealthCheck(ctx context.Context) map[string]any
	Close() error
}

// RedisStore is the production CounterStore backed by go-redis.
type RedisStore struct {
	client            *redis.Client
	tokenBucketSHA    string
	slidingWindowSHA  string
	scriptTimeout     time.Duration
}

// NewRedisStore connects to redisURL and preloads the Lua scripts via
// SCRIPT LOAD, so the hot path pays only an EVALSHA round trip.
func NewRedisStore(ctx context.Context, redisURL string, scriptTimeoutMS int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errcode.Wrap(errcode.ConfigInvalid, fmt.Errorf("parsing redis url: %w", err))
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errcode.Wrap(errcode.RedisConnectionFailed, err)
	}

	tbSHA, err := client.ScriptLoad(ctx, tokenBucketScript).Result()
	if err != nil {
		return nil, errcode.Wrap(errcode.RedisConnectionFailed, fmt.Errorf("loading token bucket script: %w", err))
	}
	swSHA, err := client.ScriptLoad(ctx, slidingWindowScript).Result()
	if err != nil {
		return nil, errcode.Wrap(errcode.RedisConnectionFailed, fmt.Errorf("loading sliding window script: %w", err))
	}

	if scriptTimeoutMS <= 0 {
		scriptTimeoutMS = 50
	}
	return &RedisStore{
		client:           client,
		tokenBucketSHA:   tbSHA,
		slidingWindowSHA: swSHA,
		scriptTimeout:    time.Duration(scriptTimeoutMS) * time.Millisecond,
	}, nil
}

func (s *RedisStore) CheckRateLimit(ctx context.Context, key string, limit float64, windowSeconds int, requested float64) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.scriptTimeout)
	defer cancel()

	refillRate := limit / float64(windowSeconds)
	now := float64(time.Now().UnixNano()) / 1e9

	res, err := s.client.EvalSha(ctx, s.tokenBucketSHA, []string{key}, requested, limit, refillRate, now).Result()
	if err != nil {
		return Result{}, errcode.Wrap(errcode.ConsensusTimeout, err)
	}
	return parseResult(res)
}

func (s *RedisStore) CheckSlidingWindow(ctx context.Context, key string, limit float64, windowSeconds int) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.scriptTimeout)
	defer cancel()

	now := float64(time.Now().UnixNano()) / 1e9
	res, err := s.client.EvalSha(ctx, s.slidingWindowSHA, []string{key}, now, windowSeconds, limit).Result()
	if err != nil {
		return Result{}, errcode.Wrap(errcode.ConsensusTimeout, err)
	}
	return parseResult(res)
}

func parseResult(res any) (Result, error) {
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return Result{}, fmt.Errorf("unexpected script result shape: %#v", res)
	}
	allowed, _ := arr[0].(int64)
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case string:
		fmt.Sscanf(v, "%f", &remaining)
	}
	return Result{Allowed: allowed == 1, Remaining: remaining}, nil
}

func (s *RedisStore) GetUsage(ctx context.Context, key string) (float64, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, errcode.Wrap(errcode.RedisConnectionFailed, err)
	}
	var tokens float64
	fmt.Sscanf(vals["tokens"], "%f", &tokens)
	return tokens, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errcode.Wrap(errcode.RedisConnectionFailed, err)
	}
	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) map[string]any {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}
	return map[string]any{"status": "healthy"}
}

func (s *RedisStore) Close() error { return s.client.Close() }
