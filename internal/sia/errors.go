package sia

import (
	"errors"
	"fmt"
)

// ErrRemoteUnavailable is returned once the retry budget for transport
// failures is exhausted. The last transport error is wrapped alongside it.
var ErrRemoteUnavailable = errors.New("sia daemon unavailable")

// TransportError is a connectivity failure talking to the daemon: the request
// never produced an HTTP response. Only these are retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is an error payload returned by the daemon.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: daemon returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: daemon returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
