package sources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitedError is returned when the platform rejects a request with 429
type RateLimitedError struct {
	Endpoint string
	Reset    time.Time // zero when the platform did not say
}

func (e *RateLimitedError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("rate limited on %s", e.Endpoint)
	}
	return fmt.Sprintf("rate limited on %s until %s", e.Endpoint, e.Reset.Format(time.RFC3339))
}

// IsRateLimited reports whether err is (or wraps) a RateLimitedError
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// parseReset reads an x-rate-limit-reset header (unix seconds)
func parseReset(header string) time.Time {
	if header == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// CallWithRateLimitRetry runs fn and, when it is rate limited with a known reset time no further
// than maxWait away, waits for the reset and retries exactly once.
func CallWithRateLimitRetry[T any](ctx context.Context, maxWait time.Duration, fn func(context.Context) (T, error)) (T, error) {
	result, err := fn(ctx)
	rl, limited := IsRateLimited(err)
	if !limited || rl.Reset.IsZero() {
		return result, err
	}

	wait := time.Until(rl.Reset) + time.Second
	if wait > maxWait {
		logrus.Warnf("%v; reset is %v away, not waiting", rl, wait.Round(time.Second))
		return result, err
	}
	if wait < 0 {
		wait = 0
	}

	logrus.Infof("%v; waiting %v before a single retry", rl, wait.Round(time.Second))
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-time.After(wait):
	}

	return fn(ctx)
}

// newLimiter creates the client-side request pacer
func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = 2.0
	}
	if burst <= 0 {
		burst = 10
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
