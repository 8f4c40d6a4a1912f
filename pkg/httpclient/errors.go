package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RetryableError marks a transport failure the caller may retry or fail
// over on.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error { return e.Err }

func (e *RetryableError) IsRetryable() bool { return true }

// IsTimeout reports whether err is a timeout. Timeouts mean the service is
// alive but slow; they never trigger retries or failover.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isRetryableStatus classifies response codes. 4xx is the caller's fault and
// is never retried; only gateway-class 5xx responses are.
func isRetryableStatus(code int) bool {
	switch code {
	case 502, 503, 504:
		return true
	}
	return false
}
