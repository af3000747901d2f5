package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry parameters shared by every provider's HTTP calls: base 1s, factor
// 2x, max 60s, ±25% jitter, 5 retries (6 attempts in all) before giving up.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// sleepFunc is overridden in tests to avoid real delays.
type sleepFunc func(ctx context.Context, d time.Duration) error

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryDo runs doOnce, retrying on network errors and retryable HTTP status
// codes with exponential backoff and jitter, honoring a 429 response's
// Retry-After header when present. It classifies the final, non-retried
// response into the storage error taxonomy before returning.
func retryDo(
	ctx context.Context,
	logger *slog.Logger,
	provider string,
	sleep sleepFunc,
	doOnce func(ctx context.Context) (*http.Response, error),
) (*http.Response, error) {
	if sleep == nil {
		sleep = timeSleep
	}

	var attempt int

	for {
		resp, err := doOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("storage(%s): request canceled: %w", provider, ctx.Err())
			}

			if attempt >= maxRetries {
				return nil, &RetryableTransient{Provider: provider, Message: err.Error()}
			}

			backoff := calcBackoff(attempt)
			logger.Warn("storage: retrying after network error",
				slog.String("provider", provider),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleepErr := sleep(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("storage(%s): request canceled: %w", provider, sleepErr)
			}

			attempt++

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			body = []byte("(failed to read response body)")
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxRetries {
			backoff := retryBackoff(resp, attempt)
			logger.Warn("storage: retrying after HTTP error",
				slog.String("provider", provider),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := sleep(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("storage(%s): request canceled: %w", provider, sleepErr)
			}

			attempt++

			continue
		}

		return nil, classifyStatus(provider, resp.StatusCode, string(body))
	}
}

// retryBackoff returns the backoff duration for a retryable response. A 429
// response's Retry-After header, when present, takes precedence over the
// computed exponential backoff.
func retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}
