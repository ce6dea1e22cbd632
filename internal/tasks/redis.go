package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/odm/internal/metrics"
)

// DefaultRedisKey is the list holding pending jobs
const DefaultRedisKey = "odm:tasks"

// RedisQueue is a durable Runner backed by a redis list. Producers LPUSH encoded jobs,
// workers BRPOP them. Jobs that fail MaxAttempts times are moved to the dead letter
// list "<key>:dead".
type RedisQueue struct {
	client      *redis.Client
	key         string
	maxAttempts int
	exec        *executor
}

// RedisConfig holds redis queue configuration
type RedisConfig struct {
	// Addr is the redis server address (host:port)
	Addr string
	// Password is the redis password (optional)
	Password string
	// DB is the redis database number
	DB int
	// Key is the list holding pending jobs
	Key string
}

// DefaultRedisConfig returns a default redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr: "localhost:6379",
		Key:  DefaultRedisKey,
	}
}

// DialRedis connects to redis and verifies the connection
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisQueue creates a queue on key using an existing client
func NewRedisQueue(client *redis.Client, key string, handlers *Handlers, logger *zap.Logger, m *metrics.Metrics) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	if handlers == nil {
		handlers = NewHandlers()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		client:      client,
		key:         key,
		maxAttempts: DefaultMaxAttempts,
		exec:        &executor{handlers: handlers, logger: logger.With(zap.String("queue", key)), metrics: m},
	}
}

// Handlers returns the handler registry of the queue
func (q *RedisQueue) Handlers() *Handlers { return q.exec.handlers }

// DeadLetterKey returns the list holding jobs that exhausted their attempts
func (q *RedisQueue) DeadLetterKey() string { return q.key + ":dead" }

// Enqueue implements Runner
func (q *RedisQueue) Enqueue(ctx context.Context, kind string, payload []byte) error {
	job := NewJob(kind, payload)
	job.MaxAttempts = q.maxAttempts
	return q.push(ctx, q.key, job)
}

// Len returns the number of pending jobs
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// ProcessNext waits up to timeout for a job and runs one attempt of it. A failed
// retryable job goes back to the queue. It reports whether a job was taken.
func (q *RedisQueue) ProcessNext(ctx context.Context, timeout time.Duration) (bool, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.exec.logger.Error("dropping undecodable job", zap.Error(err))
		return true, nil
	}

	outcome, _ := q.exec.attempt(ctx, &job)
	switch outcome {
	case OutcomeRetried:
		err = q.push(ctx, q.key, &job)
	case OutcomeFailed:
		err = q.push(ctx, q.DeadLetterKey(), &job)
	}
	if n, lenErr := q.Len(ctx); lenErr == nil {
		q.exec.metrics.SetQueued(int(n))
	}
	return true, err
}

// Run processes jobs with the given number of workers until ctx is cancelled
func (q *RedisQueue) Run(ctx context.Context, workers int) error {
	if workers < 1 {
		workers = 1
	}
	q.exec.logger.Info("redis task queue started", zap.Int("workers", workers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				if _, err := q.ProcessNext(ctx, time.Second); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					q.exec.logger.Warn("redis task queue error", zap.Error(err))
					time.Sleep(100 * time.Millisecond)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	q.exec.logger.Info("redis task queue stopped")
	return err
}

func (q *RedisQueue) push(ctx context.Context, key string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

var _ Runner = (*RedisQueue)(nil)
