package engine

import "errors"

// ErrHeartbeatExpired marks a task attempt cancelled by its liveness watchdog.
var ErrHeartbeatExpired = errors.New("task heartbeat expired")

// FatalError wraps a failure that must not be retried, such as missing
// configuration or credentials.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as non-retryable for InvokeTask. A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries the no-retry marker.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
