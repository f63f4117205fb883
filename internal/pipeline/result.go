package pipeline

import (
	"errors"
	"fmt"
)

// TransientError marks a stage failure as retryable. Handlers return it when
// the failure came from an external dependency (network, 5xx) rather than
// from the delivery content; the router's retry middleware redelivers those.
// Everything else is terminal: the stage has already recorded a *_failed
// status on the Delivery and the message is acked.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
