package relayhttp

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error type tags carried by ClientError.Type.
const (
	ErrorTypeNetwork             = "Network"
	ErrorTypeTimeout             = "Timeout"
	ErrorTypeServer              = "Server"
	ErrorTypeClient              = "Client"
	ErrorTypeRateLimit           = "RateLimit"
	ErrorTypeCircuitOpen         = "CircuitOpen"
	ErrorTypeRetryBudgetExceeded = "RetryBudget"
	ErrorTypeValidation          = "Validation"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrRateLimited is returned when a request is denied by the rate limit stage.
	ErrRateLimited = errors.New("relayhttp: rate limited")

	// ErrCircuitOpen is returned when the destination's circuit is open.
	ErrCircuitOpen = errors.New("relayhttp: circuit open")

	// ErrRetryBudgetExceeded is returned when the process-wide retry budget is exhausted.
	ErrRetryBudgetExceeded = errors.New("relayhttp: retry budget exceeded")
)

// ClientError is the tagged error value every pipeline failure surfaces as.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches other ClientErrors by type tag, and the package sentinels for
// admission-denied outcomes so callers can use errors.Is(err, ErrCircuitOpen)
// without knowing the concrete type.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimit
	case ErrCircuitOpen:
		return e.Type == ErrorTypeCircuitOpen
	case ErrRetryBudgetExceeded:
		return e.Type == ErrorTypeRetryBudgetExceeded
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on a fresh call. Network errors, timeouts and server failures
// are transient; admission denials are transient (the destination may recover)
// but are never retried within the same call; validation and client errors
// are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer:
			return true
		case ErrorTypeClient:
			// 429 Too Many Requests is transient
			return clientErr.StatusCode == http.StatusTooManyRequests
		default:
			return false
		}
	}

	return false
}

// newPipelineError builds a ClientError stamped with request context.
func newPipelineError(errType, message string, cause error, req *http.Request) *ClientError {
	e := &ClientError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
	if req != nil {
		e.Method = req.Method
		if req.URL != nil {
			e.URL = req.URL.String()
		}
		e.Endpoint = endpointFromRequest(req)
	}
	return e
}
