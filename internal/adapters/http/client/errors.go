package client

import (
	"errors"
	"fmt"

	"github.com/okian/posebridge/pkg/metrics"
)

// Sentinel error kinds for delivery attempts.
var (
	ErrConnection = errors.New("connection failed")
	ErrTimeout    = errors.New("request timed out")
	ErrStatus     = errors.New("unexpected status")
	ErrEncode     = errors.New("encode payload")
)

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded with status %d: %s", e.Code, e.Body)
}

// Unwrap lets errors.Is(err, ErrStatus) match.
func (e *StatusError) Unwrap() error { return ErrStatus }

// Kind maps a Send error to the metrics outcome label.
func Kind(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	case errors.Is(err, ErrStatus):
		return metrics.OutcomeStatus
	case errors.Is(err, ErrEncode):
		return metrics.OutcomeEncode
	default:
		return metrics.OutcomeConnection
	}
}

// Retryable reports whether another attempt could succeed. An encode failure
// is deterministic for the item.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrEncode)
}
