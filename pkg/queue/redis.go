package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"VolCast/pkg/logger"
)

var jobsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "volcast",
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Queue messages by type and disposition",
	},
	[]string{"type", "disposition"},
)

// RedisQueue keeps pending messages in a Redis list, scheduled retries in a sorted
// set scored by due time, and permanently failed messages in a dead list.
type RedisQueue struct {
	l         *logger.Logger
	cfg       QueueConfig
	client    *redis.Client
	prefix    string
	retryable RetryPolicy
	consumer  bool
	now       func() time.Time

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces the queue keys, e.g. "volcast:jobs".
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(q *RedisQueue) {
		if prefix != "" {
			q.prefix = prefix
		}
	}
}

// WithRetryPolicy decides which handler errors are retried. Defaults to RetryAll.
func WithRetryPolicy(p RetryPolicy) RedisQueueOption {
	return func(q *RedisQueue) {
		if p != nil {
			q.retryable = p
		}
	}
}

func newRedisQueue(l *logger.Logger, cfg QueueConfig, client *redis.Client, consumer bool, opts ...RedisQueueOption) *RedisQueue {
	if l == nil {
		l = logger.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	q := &RedisQueue{
		l:         l,
		cfg:       cfg,
		client:    client,
		prefix:    "volcast:jobs",
		retryable: RetryAll,
		consumer:  consumer,
		now:       time.Now,
		jobs:      make(map[string]Job),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	return q
}

// NewRedisPublisher creates a queue handle that only enqueues.
func NewRedisPublisher(l *logger.Logger, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	return newRedisQueue(l, QueueConfig{}, client, false, opts...)
}

// NewRedisConsumer creates a worker pool for jobs. Call Start to begin polling.
func NewRedisConsumer(l *logger.Logger, cfg QueueConfig, client *redis.Client, jobs []Job, opts ...RedisQueueOption) *RedisQueue {
	q := newRedisQueue(l, cfg, client, true, opts...)
	for _, job := range jobs {
		q.RegisterJob(job)
	}
	return q
}

// RegisterJob routes messages of job.Type() to job. Duplicates are ignored.
func (q *RedisQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[job.Type()]; ok {
		q.l.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	q.jobs[job.Type()] = job
	q.l.Debug("job registered", logger.String("job", job.Name()), logger.String("type", job.Type()))
}

// Start pings Redis and launches the workers and the retry pump.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	ctx, cancel := context.WithTimeout(q.ctx, 5*time.Second)
	defer cancel()
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	q.running = true
	if !q.consumer {
		return nil
	}
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.retryPump()
	q.l.Info("job queue started",
		logger.Int("workers", q.cfg.Workers),
		logger.String("prefix", q.prefix),
		logger.Int("jobs", len(q.jobs)),
	)
	return nil
}

// Stop cancels polling and waits for in-flight jobs until ctx expires.
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("job queue stop: %w", ctx.Err())
	case <-done:
		q.l.Info("job queue stopped")
		return nil
	}
}

// PublishMessage enqueues payload as a msgType message.
func (q *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Enqueued: q.now().UTC()}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := q.client.LPush(ctx, q.key("pending"), b).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	return nil
}

func (q *RedisQueue) worker(id int) {
	defer q.wg.Done()
	for q.ctx.Err() == nil {
		q.poll()
	}
	q.l.Debug("job worker stopped", logger.Int("worker_id", id))
}

func (q *RedisQueue) poll() {
	res, err := q.client.BRPop(q.ctx, time.Second, q.key("pending")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || q.ctx.Err() != nil {
			return
		}
		q.l.Error("job queue pop", logger.Error(err))
		select {
		case <-time.After(time.Second):
		case <-q.ctx.Done():
		}
		return
	}
	if len(res) < 2 {
		return
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		q.l.Error("job message undecodable; dropped", logger.Error(err))
		return
	}
	q.process(q.ctx, msg)
}

func (q *RedisQueue) process(ctx context.Context, msg Message) Disposition {
	q.mu.RLock()
	job, ok := q.jobs[msg.Type]
	q.mu.RUnlock()
	if !ok {
		q.l.Error("no job for message type", logger.String("type", msg.Type), logger.String("id", msg.ID))
		q.bury(msg)
		jobsProcessed.WithLabelValues(msg.Type, Dead.String()).Inc()
		return Dead
	}

	start := q.now()
	err := job.Handle(ctx, msg.Payload)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// shutting down; put it back for the next worker
		if perr := q.requeue(msg); perr != nil {
			q.l.Error("job requeue on shutdown", logger.String("id", msg.ID), logger.Error(perr))
		}
		return Retry
	}

	d := Dispose(err, msg.Attempts, q.cfg.RetryLimit, q.retryable)
	jobsProcessed.WithLabelValues(msg.Type, d.String()).Inc()
	switch d {
	case Done:
		q.l.Info("job done",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Duration("duration_ms", q.now().Sub(start)),
		)
	case Retry:
		msg.Attempts++
		due := q.now().Add(q.cfg.RetryDelay)
		q.l.Warn("job failed; retry scheduled",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Int("attempt", msg.Attempts),
			logger.Time("retry_at", due),
			logger.Error(err),
		)
		q.schedule(msg, due)
	case Dead:
		q.l.Error("job failed permanently",
			logger.String("job", job.Name()),
			logger.String("id", msg.ID),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err),
		)
		q.bury(msg)
	}
	return d
}

func (q *RedisQueue) schedule(msg Message, due time.Time) {
	b, err := json.Marshal(msg)
	if err != nil {
		q.l.Error("encode retry", logger.Error(err))
		return
	}
	z := redis.Z{Score: float64(due.Unix()), Member: b}
	if err := q.client.ZAdd(context.Background(), q.key("retry"), z).Err(); err != nil {
		q.l.Error("schedule retry", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *RedisQueue) requeue(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.client.RPush(context.Background(), q.key("pending"), b).Err()
}

func (q *RedisQueue) bury(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		q.l.Error("encode dead message", logger.Error(err))
		return
	}
	if err := q.client.LPush(context.Background(), q.key("dead"), b).Err(); err != nil {
		q.l.Error("bury message", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (q *RedisQueue) retryPump() {
	defer q.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.promoteDue(q.ctx); err != nil && q.ctx.Err() == nil {
				q.l.Error("promote retries", logger.Error(err))
			}
		}
	}
}

// promoteDue moves retries whose due time has passed back onto the pending list.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.key("retry"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, member := range due {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key("retry"), member)
		pipe.LPush(ctx, q.key("pending"), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func (q *RedisQueue) key(name string) string {
	return q.prefix + ":" + name
}

var _ QueueService = (*RedisQueue)(nil)
