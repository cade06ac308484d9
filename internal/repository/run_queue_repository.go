package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/exam-scheduler/internal/dto"
)

// ErrQueueEmpty is returned by Pop when no request arrived before the timeout.
var ErrQueueEmpty = errors.New("run queue empty")

// RunQueueRepository is a Redis list of pending run requests shared by
// producers (the run command with --enqueue) and serve workers.
type RunQueueRepository struct {
	client *redis.Client
	key    string
}

// NewRunQueueRepository constructs the queue repository.
func NewRunQueueRepository(client *redis.Client, key string) *RunQueueRepository {
	return &RunQueueRepository{client: client, key: key}
}

// Push appends a run request.
func (r *RunQueueRepository) Push(ctx context.Context, req dto.RunRequest) error {
	if r.client == nil {
		return fmt.Errorf("run queue requires redis")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	if err := r.client.RPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("redis push %s: %w", r.key, err)
	}
	return nil
}

// Requeue puts a request back at the head of the queue so it is popped next.
func (r *RunQueueRepository) Requeue(ctx context.Context, req dto.RunRequest) error {
	if r.client == nil {
		return fmt.Errorf("run queue requires redis")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal run request: %w", err)
	}
	if err := r.client.LPush(ctx, r.key, payload).Err(); err != nil {
		return fmt.Errorf("redis requeue %s: %w", r.key, err)
	}
	return nil
}

// Pop blocks up to timeout for the next run request.
func (r *RunQueueRepository) Pop(ctx context.Context, timeout time.Duration) (dto.RunRequest, error) {
	var req dto.RunRequest
	if r.client == nil {
		return req, fmt.Errorf("run queue requires redis")
	}
	values, err := r.client.BLPop(ctx, timeout, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return req, ErrQueueEmpty
		}
		return req, fmt.Errorf("redis pop %s: %w", r.key, err)
	}
	// BLPOP replies with [key, value].
	if len(values) != 2 {
		return req, fmt.Errorf("unexpected redis pop reply of %d elements", len(values))
	}
	if err := json.Unmarshal([]byte(values[1]), &req); err != nil {
		return req, fmt.Errorf("unmarshal run request: %w", err)
	}
	return req, nil
}

// Len reports the number of pending requests.
func (r *RunQueueRepository) Len(ctx context.Context) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis len %s: %w", r.key, err)
	}
	return n, nil
}
