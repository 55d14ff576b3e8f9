package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iago/pdf-processor-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisKeyPrefix = "result:"
	maxUpdateRetries      = 8
)

// RedisJobsRepository keeps each job as a JSON value with a native key TTL.
type RedisJobsRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisJobsRepository(client *redis.Client, prefix string) *RedisJobsRepository {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisJobsRepository{client: client, prefix: prefix}
}

func (r *RedisJobsRepository) CreateJob(ctx context.Context, job *domain.Job, ttl time.Duration) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := r.client.Set(ctx, r.key(job.ID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set job: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisJobsRepository) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	raw, err := r.client.Get(ctx, r.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %v", domain.ErrStoreUnavailable, err)
	}
	return decodeJob(raw)
}

// UpdateJob runs mutate inside a WATCH/MULTI transaction and retries when a
// concurrent writer touched the key first.
func (r *RedisJobsRepository) UpdateJob(ctx context.Context, jobID string, mutate Mutator) (*domain.Job, error) {
	key := r.key(jobID)
	var updated *domain.Job

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		job, err := decodeJob(raw)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return mutateError{err: err}
		}
		encoded, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("encode job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, encoded, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		var rejected mutateError
		if errors.As(err, &rejected) {
			return nil, rejected.err
		}
		return nil, fmt.Errorf("%w: update job: %v", domain.ErrStoreUnavailable, err)
	}
	return nil, fmt.Errorf("%w: update job %s: too much contention", domain.ErrStoreUnavailable, jobID)
}

func (r *RedisJobsRepository) DeleteJob(ctx context.Context, jobID string) error {
	if err := r.client.Del(ctx, r.key(jobID)).Err(); err != nil {
		return fmt.Errorf("%w: delete job: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisJobsRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisJobsRepository) key(jobID string) string {
	return r.prefix + jobID
}

func decodeJob(raw []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// mutateError carries a mutator rejection out of the WATCH callback untouched.
type mutateError struct {
	err error
}

func (e mutateError) Error() string {
	return e.err.Error()
}
