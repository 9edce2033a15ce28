package llm

import (
	"errors"
	"fmt"
)

// UnavailableError is returned when both endpoints failed and the request
// has been enqueued for later retry. QueueID identifies the queued item.
type UnavailableError struct {
	QueueID string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("LLM unavailable. Request queued for retry. ID: %s", e.QueueID)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// LocalModelMissingError is returned when a specifically requested model
// is not present on the local endpoint.
type LocalModelMissingError struct {
	Model string
}

func (e *LocalModelMissingError) Error() string {
	return fmt.Sprintf("local model %q is not available", e.Model)
}

// statusError carries an HTTP status from either endpoint.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

// retriable reports whether this status is retried within a request:
// 5xx only. 4xx (including 429) is not.
func (e *statusError) retriable() bool {
	return e.status >= 500
}
