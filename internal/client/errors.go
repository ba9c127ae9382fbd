package client

import "fmt"

// NetworkError means the remote store could not be reached at all. The
// caller queues the item locally and moves on; the next sweep retries.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("remote store unreachable: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// BackendError means the remote store answered with a non-success
// status. Also non-fatal from the engine's perspective, but logged at a
// higher level since it usually means a payload or auth problem.
type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}
