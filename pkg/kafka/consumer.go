package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "VolCast/pkg/logger"
)

// Record is a message as read from a topic.
type Record = kafka.Message

// MessageHandler handles messages from one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type partitionKey struct {
	topic     string
	partition int
}

type delivery struct {
	topic  string
	record Record
}

// Consumer reads registered topics and hands messages to a worker pool. Messages of
// one partition are handled one at a time so offsets commit in order.
type Consumer struct {
	cfg      ConsumerConfig
	l        *applogger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer

	queue    chan delivery
	ctx      context.Context
	cancel   context.CancelFunc
	fetchers sync.WaitGroup
	workers  sync.WaitGroup
	stopOnce sync.Once

	partMu sync.Mutex
	parts  map[partitionKey]*sync.Mutex
}

// NewConsumer creates a consumer. Readers are opened by Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}
	l := cfg.Logger
	if l == nil {
		l = applogger.Nop()
	}
	c := &Consumer{
		cfg:      cfg,
		l:        l,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		queue:    make(chan delivery, cfg.BufferSize),
		parts:    make(map[partitionKey]*sync.Mutex),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Topic: cfg.DLQTopic, Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler routes h.Topic() to h. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.l.Warn("kafka handler already registered", applogger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// Start opens one reader per topic and launches the workers. It does not block.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}
	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workers.Add(1)
		go c.work()
	}
	for topic, r := range c.readers {
		c.fetchers.Add(1)
		go c.fetch(topic, r)
	}
	c.l.Info("kafka consumer started",
		applogger.Int("topics", len(c.readers)),
		applogger.Int("workers", c.cfg.WorkerCount),
		applogger.String("group", c.cfg.GroupID),
	)
	return nil
}

// Stop halts fetching, drains the workers and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.cancel()
		c.fetchers.Wait()
		close(c.queue)

		done := make(chan struct{})
		go func() {
			c.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.l.Warn("kafka reader close", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.l.Warn("kafka dlq writer close", applogger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) fetch(topic string, r *kafka.Reader) {
	defer c.fetchers.Done()
	for {
		rec, err := r.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.l.Error("kafka fetch", applogger.String("topic", topic), applogger.Error(err))
			select {
			case <-time.After(time.Second):
				continue
			case <-c.ctx.Done():
				return
			}
		}
		select {
		case c.queue <- delivery{topic: topic, record: rec}:
			consumerBacklog.WithLabelValues(topic).Set(float64(len(c.queue)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) work() {
	defer c.workers.Done()
	for d := range c.queue {
		c.handle(d)
	}
}

func (c *Consumer) handle(d delivery) {
	h, ok := c.handlers[d.topic]
	if !ok {
		return
	}
	mu := c.partitionLock(d.topic, d.record.Partition)
	mu.Lock()
	defer mu.Unlock()

	start := time.Now()
	attempts, err := c.deliver(c.ctx, h, d.record)
	consumerAttempts.WithLabelValues(d.topic).Observe(float64(attempts))
	consumerLatency.WithLabelValues(d.topic).Observe(time.Since(start).Seconds())

	commit := err == nil
	if err != nil {
		if c.ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// shutting down; leave the offset for the next member
			return
		}
		dead := c.deadLetter(d.topic, d.record, attempts, err)
		permanent := !c.cfg.Retryable(err)
		outcome := "rejected"
		if dead {
			outcome = "dead_lettered"
		}
		consumerOutcomes.WithLabelValues(d.topic, outcome).Inc()
		c.l.Warn("kafka message failed",
			applogger.String("topic", d.topic),
			applogger.Int("partition", d.record.Partition),
			applogger.Int64("offset", d.record.Offset),
			applogger.Int("attempts", attempts),
			applogger.Bool("permanent", permanent),
			applogger.Bool("dead_lettered", dead),
			applogger.Error(err),
		)
		if c.cfg.OnReject != nil {
			c.cfg.OnReject(d.topic, d.record, err, dead)
		}
		// a permanent failure will not succeed on redelivery either
		commit = dead || permanent
	} else {
		consumerOutcomes.WithLabelValues(d.topic, "ok").Inc()
	}
	if commit {
		c.commit(d.topic, d.record)
	}
}

// deliver runs h until it succeeds, fails permanently, or the retry budget runs out.
// It returns the number of attempts made.
func (c *Consumer) deliver(ctx context.Context, h MessageHandler, rec Record) (int, error) {
	for attempt := 1; ; attempt++ {
		err := invoke(ctx, h, rec.Value)
		if err == nil {
			return attempt, nil
		}
		if !c.cfg.Retryable(err) || attempt > c.cfg.RetryMax {
			return attempt, err
		}
		select {
		case <-time.After(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return attempt, err
		}
	}
}

func invoke(ctx context.Context, h MessageHandler, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on %s: %v", h.Topic(), r)
		}
	}()
	return h.Handle(ctx, data)
}

func (c *Consumer) deadLetter(topic string, rec Record, attempts int, cause error) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Key:   rec.Key,
		Value: rec.Value,
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(topic)},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(rec.Offset, 10))},
			{Key: "attempts", Value: []byte(strconv.Itoa(attempts))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.l.Error("kafka dlq write", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(topic string, rec Record) {
	r := c.readers[topic]
	if r == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, rec)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.l.Error("kafka commit", applogger.String("topic", topic), applogger.Int64("offset", rec.Offset), applogger.Error(err))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.partMu.Lock()
	defer c.partMu.Unlock()
	k := partitionKey{topic: topic, partition: partition}
	mu, ok := c.parts[k]
	if !ok {
		mu = &sync.Mutex{}
		c.parts[k] = mu
	}
	return mu
}

// backoff is exponential from min, capped at max, with up to 50% jitter removed.
func backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}
