package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// QueueService hands work to the job workers.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig sizes the worker pool and its retry budget.
type QueueConfig struct {
	Workers    int
	RetryLimit int           // extra attempts after the first failure
	RetryDelay time.Duration // wait before a failed message is attempted again
}

// Message is the envelope stored in Redis. Payload stays raw JSON until a job decodes it.
type Message struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	Enqueued time.Time       `json:"enqueued_at"`
}

// RetryPolicy reports whether a failed message deserves another attempt.
type RetryPolicy func(error) bool

// RetryAll treats every failure as transient.
func RetryAll(err error) bool { return err != nil }

// Disposition is what happens to a message after its handler returns.
type Disposition int

const (
	Done Disposition = iota
	Retry
	Dead
)

func (d Disposition) String() string {
	switch d {
	case Retry:
		return "retry"
	case Dead:
		return "dead"
	default:
		return "done"
	}
}

// Dispose decides the fate of a message that has already been attempted
// attempts+1 times. Permanent failures go straight to the dead list.
func Dispose(err error, attempts, limit int, retryable RetryPolicy) Disposition {
	if err == nil {
		return Done
	}
	if retryable == nil {
		retryable = RetryAll
	}
	if !retryable(err) || attempts >= limit {
		return Dead
	}
	return Retry
}

// ParsePayload decodes a job payload into T. Typed values pass through; raw JSON and
// decoded maps or slices are re-read as T.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decodePayload[T](p)
	case []byte:
		return decodePayload[T](p)
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		return decodePayload[T](raw)
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

func decodePayload[T any](raw []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
