package errs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinels matched with errors.Is by callers and the HTTP layer.
var (
	ErrData                = errors.New("data error")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrStaleArtifact       = errors.New("stale artifact")
	ErrModelRejected       = errors.New("model rejected")
	ErrLocked              = errors.New("operation already running")
)

// DataError reports malformed or impossible input such as a non-positive price.
type DataError struct {
	Field  string
	At     time.Time
	Reason string
}

func (e *DataError) Error() string {
	if e.At.IsZero() {
		return fmt.Sprintf("data error: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("data error: %s at %s: %s", e.Field, e.At.UTC().Format(time.RFC3339), e.Reason)
}

func (e *DataError) Is(target error) bool { return target == ErrData }

// InsufficientDataError reports that fewer rows than required were available.
type InsufficientDataError struct {
	What string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d, need %d", e.What, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// UpstreamError wraps a failure reaching the store or candle source.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream unavailable: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

func (e *UpstreamError) Unwrap() error { return e.Err }

// StaleArtifactError is returned when prediction is requested before any model was trained.
type StaleArtifactError struct {
	Symbol string
	Freq   string
	Target string
}

func (e *StaleArtifactError) Error() string {
	return fmt.Sprintf("no model artifact for %s/%s/%s", e.Symbol, e.Freq, e.Target)
}

func (e *StaleArtifactError) Is(target error) bool { return target == ErrStaleArtifact }

// Upstream wraps err as an UpstreamError unless it is nil or already one.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// Kind returns a short label for metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, ErrStaleArtifact):
		return "stale_artifact"
	case errors.Is(err, ErrModelRejected):
		return "model_rejected"
	case errors.Is(err, ErrLocked):
		return "locked"
	default:
		return "internal"
	}
}

// Retryable reports whether a later attempt may succeed. Only upstream outages and
// deadlines qualify; bad data, rejected models and held locks fail the same way again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUpstreamUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
