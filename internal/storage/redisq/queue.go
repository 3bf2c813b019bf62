// Package redisq is the Redis broker for the execution facility. Each queue
// uses a ready list, a processing list, a delayed sorted set and a lease
// sorted set; message bodies live under their own key.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/redis/go-redis/v9"
)

type Queue struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewQueue(client *redis.Client, prefix string) *Queue {
	if prefix == "" {
		prefix = "profilejobs"
	}
	return &Queue{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// NewClient opens a client and pings it once.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (q *Queue) readyKey(queue string) string      { return q.prefix + ":queue:" + queue }
func (q *Queue) processingKey(queue string) string { return q.prefix + ":processing:" + queue }
func (q *Queue) delayedKey(queue string) string    { return q.prefix + ":delayed:" + queue }
func (q *Queue) leaseKey(queue string) string      { return q.prefix + ":leases:" + queue }
func (q *Queue) jobKey(id string) string           { return q.prefix + ":job:" + id }

func (q *Queue) Enqueue(ctx context.Context, job *models.QueuedJob) error {
	now := q.now()
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	job.Status = config.QueueStatusQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), body, 0)
		if job.AvailableAt.After(now) {
			pipe.ZAdd(ctx, q.delayedKey(job.Queue), redis.Z{Score: score(job.AvailableAt), Member: job.ID})
		} else {
			pipe.LPush(ctx, q.readyKey(job.Queue), job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the message body, or nil when the job is not on the queue.
func (q *Queue) Get(ctx context.Context, id string) (*models.QueuedJob, error) {
	body, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	var job models.QueuedJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// AcquireNext moves the oldest ready message to the processing list and
// leases it to workerID. It returns nil, nil when nothing is ready.
func (q *Queue) AcquireNext(ctx context.Context, queue string, workerID string, lockDuration time.Duration) (*models.QueuedJob, error) {
	now := q.now()
	if err := q.promoteDue(ctx, queue, now); err != nil {
		return nil, err
	}

	id, err := q.client.LMove(ctx, q.readyKey(queue), q.processingKey(queue), "RIGHT", "LEFT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("acquire from %s: %w", queue, err)
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		q.client.LRem(ctx, q.processingKey(queue), 1, id)
		return nil, nil
	}

	until := now.Add(lockDuration)
	job.Status = config.QueueStatusRunning
	job.Attempts++
	job.LockedBy = workerID
	job.LockedUntil = &until
	job.UpdatedAt = now

	if err := q.save(ctx, job, func(pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, q.leaseKey(queue), redis.Z{Score: score(until), Member: id})
	}); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete removes the message for good.
func (q *Queue) Complete(ctx context.Context, job *models.QueuedJob) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(job.Queue), 1, job.ID)
		pipe.ZRem(ctx, q.leaseKey(job.Queue), job.ID)
		pipe.Del(ctx, q.jobKey(job.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	job.Status = config.QueueStatusDone
	return nil
}

// RetryLater parks the message on the delayed set until availableAt.
func (q *Queue) RetryLater(ctx context.Context, job *models.QueuedJob, availableAt time.Time, errMsg string) error {
	job.Status = config.QueueStatusQueued
	job.AvailableAt = availableAt
	job.LastError = errMsg
	job.LockedBy = ""
	job.LockedUntil = nil
	job.UpdatedAt = q.now()

	return q.save(ctx, job, func(pipe redis.Pipeliner) {
		pipe.LRem(ctx, q.processingKey(job.Queue), 1, job.ID)
		pipe.ZRem(ctx, q.leaseKey(job.Queue), job.ID)
		pipe.ZAdd(ctx, q.delayedKey(job.Queue), redis.Z{Score: score(availableAt), Member: job.ID})
	})
}

// RecoverStuck handles messages whose lease expired. Those with attempts
// left go back on the ready list; the others are removed and returned so
// the caller can record the failure.
func (q *Queue) RecoverStuck(ctx context.Context, queues []string) (int, []models.QueuedJob, error) {
	now := q.now()
	released := 0
	var exhausted []models.QueuedJob

	for _, queue := range queues {
		ids, err := q.client.ZRangeByScore(ctx, q.leaseKey(queue), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatFloat(score(now), 'f', -1, 64),
		}).Result()
		if err != nil {
			return released, exhausted, fmt.Errorf("list expired leases on %s: %w", queue, err)
		}

		for _, id := range ids {
			// ZRem decides which janitor owns the expired lease.
			removed, err := q.client.ZRem(ctx, q.leaseKey(queue), id).Result()
			if err != nil {
				return released, exhausted, fmt.Errorf("release lease %s: %w", id, err)
			}
			if removed == 0 {
				continue
			}

			job, err := q.Get(ctx, id)
			if err != nil {
				return released, exhausted, err
			}
			if job == nil {
				q.client.LRem(ctx, q.processingKey(queue), 1, id)
				continue
			}

			if job.Attempts >= job.MaxAttempts {
				if err := q.Complete(ctx, job); err != nil {
					return released, exhausted, err
				}
				job.LastError = config.LeaseExpiredError
				exhausted = append(exhausted, *job)
				continue
			}

			job.Status = config.QueueStatusQueued
			job.LockedBy = ""
			job.LockedUntil = nil
			job.UpdatedAt = now
			if err := q.save(ctx, job, func(pipe redis.Pipeliner) {
				pipe.LRem(ctx, q.processingKey(queue), 1, id)
				pipe.RPush(ctx, q.readyKey(queue), id)
			}); err != nil {
				return released, exhausted, err
			}
			released++
		}
	}
	return released, exhausted, nil
}

// PingContext checks the Redis connection.
func (q *Queue) PingContext(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Depth reports how many messages are waiting on the ready list.
func (q *Queue) Depth(ctx context.Context, queue string) (int64, error) {
	return q.client.LLen(ctx, q.readyKey(queue)).Result()
}

func (q *Queue) promoteDue(ctx context.Context, queue string, now time.Time) error {
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(score(now), 'f', -1, 64),
	}).Result()
	if err != nil {
		return fmt.Errorf("list delayed on %s: %w", queue, err)
	}

	for _, id := range ids {
		// ZRem decides which worker promotes a message when several race.
		removed, err := q.client.ZRem(ctx, q.delayedKey(queue), id).Result()
		if err != nil {
			return fmt.Errorf("promote %s: %w", id, err)
		}
		if removed == 1 {
			if err := q.client.LPush(ctx, q.readyKey(queue), id).Err(); err != nil {
				return fmt.Errorf("promote %s: %w", id, err)
			}
		}
	}
	return nil
}

func (q *Queue) save(ctx context.Context, job *models.QueuedJob, extra func(redis.Pipeliner)) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), body, 0)
		extra(pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
