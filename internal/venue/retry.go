package venue

import (
	"context"
	"errors"
	"net"
	"strings"

	cenkaltibackoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"execplane/pkg/backoff"
	"execplane/pkg/metrics"
)

// retryablePatterns mirrors the connection-error set the gateway must
// treat as transient: rate limiting, gateway errors, and the classic
// connection-reset/timeout family.
var retryablePatterns = []string{
	"econnreset",
	"etimedout",
	"esockettimedout",
	"econnrefused",
	"connection reset",
	"connection refused",
	"i/o timeout",
	"timeout",
	"502",
	"504",
	"bad gateway",
	"gateway timeout",
	"429",
	"rate limit",
	"too many requests",
}

// IsRetryable classifies an error as transient per the retryable
// conditions: HTTP 429/rate-limit, HTTP 5xx/gateway errors, and the
// standard connection-error family. Auth, validation, and
// insufficient-funds errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, VenueRejected) {
		return false
	}
	if errors.Is(err, RetryableNetworkError) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Retrier wraps outbound venue calls with the fixed exponential-backoff
// retry schedule. Only the Venue Gateway retries; higher layers must not
// retry on top of this to avoid multiplicative delay.
type Retrier struct {
	schedule backoff.Schedule
	venueID  string
	log      *zap.SugaredLogger
	metrics  *metrics.Registry
}

// NewRetrier builds a Retrier for one venue's gateway.
func NewRetrier(venueID string, schedule backoff.Schedule, log *zap.SugaredLogger, reg *metrics.Registry) *Retrier {
	return &Retrier{schedule: schedule, venueID: venueID, log: log, metrics: reg}
}

// Do runs fn, retrying on RetryableNetworkError-classified failures up to
// the schedule's MaxRetries, honoring ctx's deadline between attempts.
// After the final attempt the last error is returned unwrapped.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := 0
	var lastErr error

	retryFn := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return cenkaltibackoff.Permanent(err)
		}
		if r.log != nil {
			r.log.Debugw("retrying venue call", "venue", r.venueID, "op", op, "attempt", attempts, "err", err)
		}
		return err
	}

	bo := cenkaltibackoff.WithContext(r.schedule.NewExponential(), ctx)
	err := cenkaltibackoff.Retry(retryFn, bo)

	if r.metrics != nil {
		r.metrics.RetryCount.WithLabelValues(r.venueID).Observe(float64(attempts - 1))
		if op == "executeOrder" {
			result := "success"
			if err != nil {
				result = "failure"
			}
			r.metrics.OrderResults.WithLabelValues(r.venueID, result).Inc()
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return Timeout
		}
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
