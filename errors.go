package smooth

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (possibly wrapped) by handle operations. Test
// with errors.Is.
var (
	// ErrInvalidArgument marks local validation failures raised before
	// any network activity.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout is returned when an awaited condition did not occur
	// within the caller's deadline.
	ErrTimeout = errors.New("timeout")

	// ErrConnectionClosed rejects correlation waits that were still
	// pending when the handle fully disconnected.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTaskCompleted rejects correlation waits that were still pending
	// when the task reached a terminal status: the agent can no longer
	// answer them.
	ErrTaskCompleted = errors.New("task completed")

	// ErrNotAvailable is returned when a URL accessor cannot ever
	// succeed for the task's current state (e.g. recording URL requested
	// while the task is still running).
	ErrNotAvailable = errors.New("not available")
)

// APIError is any non-2xx response from the service, or a transport
// failure (StatusCode 0).
type APIError struct {
	StatusCode int
	Detail     string
	Body       map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// ToolCallError signals a handled, user-input-class tool failure. Tool
// functions return it to report a problem to the agent (code 400) rather
// than failing the task; action results carry it when the agent rejects
// an action the same way.
type ToolCallError struct {
	Message string
}

func (e *ToolCallError) Error() string {
	return e.Message
}

// ToolCallErrorf builds a ToolCallError from a format string.
func ToolCallErrorf(format string, args ...any) *ToolCallError {
	return &ToolCallError{Message: fmt.Sprintf(format, args...)}
}
