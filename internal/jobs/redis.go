package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/todoexport/api/internal/model"
)

const (
	keyPrefix     = "export:job:"
	channelPrefix = "export:events:"

	// EventPattern matches every job event channel.
	EventPattern = channelPrefix + "*"

	maxWatchRetries = 10
)

// EventChannel is the pub/sub channel carrying the transitions of one job.
func EventChannel(id string) string {
	return channelPrefix + id
}

func jobKey(id string) string {
	return keyPrefix + id
}

// RedisStore keeps job records as JSON in the result-backend Redis and
// publishes every accepted transition on the job's event channel.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store whose records expire after retention.
// A zero retention keeps records until removed externally.
func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{
		redis:     redisClient,
		retention: retention,
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	return getJob(ctx, s.redis, id)
}

// Advance applies the transition under WATCH so concurrent writers for the
// same job never interleave a read and a write.
func (s *RedisStore) Advance(ctx context.Context, job *model.Job) error {
	if err := Validate(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := jobKey(job.ID)
	txf := func(tx *redis.Tx) error {
		var from model.JobState
		current, err := getJob(ctx, tx, job.ID)
		switch {
		case err == nil:
			from = current.State
		case !errors.Is(err, ErrNotFound):
			return err
		}

		if !CanTransition(from, job.State) {
			return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, job.State)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.retention)
			pipe.Publish(ctx, EventChannel(job.ID), data)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too many concurrent updates", job.ID)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getJob(ctx context.Context, c getter, id string) (*model.Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
