package relayhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// EventListener receives request lifecycle events from the telemetry stage.
// Implementations must be safe for concurrent use; they observe outcomes but
// cannot influence them.
type EventListener interface {
	// RequestStart fires before the inner chain runs.
	RequestStart(method, endpoint string)
	// RequestStop fires when the inner chain returns a response.
	RequestStop(method, endpoint string, statusCode int, duration time.Duration)
	// RequestException fires when the inner chain returns an error,
	// including admission denials that never reached the transport.
	RequestException(method, endpoint, errorType string, duration time.Duration)
}

// NewTelemetryMiddleware returns the observability stage, ordered outermost
// so it times and classifies every outcome, rejections included. Listener
// panics are recovered: a broken listener can cost an event, never a call.
func NewTelemetryMiddleware(listeners ...EventListener) Middleware {
	return func(req *http.Request, next RoundTripper) (*http.Response, error) {
		if len(listeners) == 0 {
			return next.RoundTrip(req)
		}

		method := req.Method
		endpoint := endpointFromRequest(req)
		start := time.Now()

		for _, l := range listeners {
			emit(func() { l.RequestStart(method, endpoint) })
		}

		resp, err := next.RoundTrip(req)
		duration := time.Since(start)

		if err != nil {
			errType := errorTypeOf(err)
			for _, l := range listeners {
				emit(func() { l.RequestException(method, endpoint, errType, duration) })
			}
		} else {
			status := resp.StatusCode
			for _, l := range listeners {
				emit(func() { l.RequestStop(method, endpoint, status, duration) })
			}
		}

		return resp, err
	}
}

func emit(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

// errorTypeOf maps an error to its telemetry tag.
func errorTypeOf(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	return ErrorTypeNetwork
}

// logListener mirrors lifecycle events to the client's logger when request
// logging is enabled.
type logListener struct {
	logger Logger
}

func (l logListener) RequestStart(method, endpoint string) {
	l.logger.Debug("request start", "method", method, "endpoint", endpoint)
}

func (l logListener) RequestStop(method, endpoint string, statusCode int, duration time.Duration) {
	l.logger.Debug("request stop", "method", method, "endpoint", endpoint, "statusCode", statusCode, "duration", duration)
}

func (l logListener) RequestException(method, endpoint, errorType string, duration time.Duration) {
	l.logger.Warn("request exception", "method", method, "endpoint", endpoint, "errorType", errorType, "duration", duration)
}
