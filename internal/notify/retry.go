package notify

import (
	"context"
	crand "crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/makt28/vigil/internal/model"
)

// sleepHook waits d or until ctx ends. Tests replace it to skip real sleeps.
var sleepHook = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type retryPolicy struct {
	maxAttempts int
	baseBackoff time.Duration
	jitter      time.Duration
	timeout     time.Duration
}

// sendWithRetries calls send until it succeeds or attempts run out. Each
// attempt gets its own timeout derived from ctx. A model.ErrNotificationConfig
// error ends the loop at once. It returns the number of attempts made and the
// last error.
func sendWithRetries(ctx context.Context, p retryPolicy, name string, send func(context.Context) error) (int, error) {
	var lastErr error
	attempt := 0
	for attempt < p.maxAttempts {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := send(attemptCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		slog.Warn("notification attempt failed",
			"channel", name,
			"attempt", attempt,
			"error", err,
		)
		if attempt == p.maxAttempts || errors.Is(err, model.ErrNotificationConfig) {
			break
		}
		if err := sleepHook(ctx, p.backoff(attempt)); err != nil {
			return attempt, lastErr
		}
	}
	return attempt, lastErr
}

// backoff returns base * 2^(attempt-1) plus up to jitter of random delay.
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.baseBackoff * time.Duration(1<<uint(attempt-1))
	if p.jitter > 0 {
		if n, err := crand.Int(crand.Reader, big.NewInt(int64(p.jitter))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}
