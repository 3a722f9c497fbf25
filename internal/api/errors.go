package api

import (
	"errors"
	"fmt"
)

// ErrNetworkUnavailable wraps transport-level failures. It is expected during
// offline operation and is never logged as an error; callers defer to the
// mutation queue instead.
var ErrNetworkUnavailable = errors.New("network unavailable")

// RemoteRejectedError is a 4xx response. Retrying a validation rejection is
// pointless, so callers must not requeue these automatically.
type RemoteRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("remote rejected request: HTTP %d: %s", e.StatusCode, e.Body)
}

// RemoteUnavailableError is a 5xx response: transient, safe to retry on the
// next drain cycle.
type RemoteUnavailableError struct {
	StatusCode int
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote unavailable: HTTP %d", e.StatusCode)
}

// IsTransient reports whether err is worth retrying on a later cycle
func IsTransient(err error) bool {
	if errors.Is(err, ErrNetworkUnavailable) {
		return true
	}
	var unavailable *RemoteUnavailableError
	return errors.As(err, &unavailable)
}

// IsRejected reports whether err is a remote validation rejection
func IsRejected(err error) bool {
	var rejected *RemoteRejectedError
	return errors.As(err, &rejected)
}
