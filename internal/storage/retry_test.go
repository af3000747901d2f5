package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSleep(_ context.Context, _ time.Duration) error { return nil }

type staticBearer string

func (s staticBearer) BearerToken() (string, error) { return string(s), nil }

func newTestKiraCloud(t *testing.T, url string) *KiraCloudProvider {
	t.Helper()

	p := NewKiraCloudProvider(url, staticBearer("test-token"))
	p.client.sleep = noopSleep

	return p
}

func TestKiraCloudUploadSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestKiraCloud(t, srv.URL)
	err := p.UploadFile(context.Background(), "Receipts/Canada/2025/2025-06/2025-06-14", "2025-06-14_1.jpg", []byte("data"))
	require.NoError(t, err)
}

func TestRetryDoClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"not found", http.StatusNotFound},
		{"too many requests", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := newTestKiraCloud(t, srv.URL)
			err := p.UploadFile(context.Background(), "path", "name", []byte("x"))
			require.Error(t, err)
		})
	}
}

func TestRetryDoRetriesOn5xxThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newTestKiraCloud(t, srv.URL)
	err := p.UploadFile(context.Background(), "path", "name", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryDoExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newTestKiraCloud(t, srv.URL)
	err := p.UploadFile(context.Background(), "path", "name", []byte("x"))
	require.Error(t, err)
	assert.Equal(t, int32(6), calls.Load())

	var transient *RetryableTransient
	assert.ErrorAs(t, err, &transient)
}

func TestRetryDoHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		if n <= 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration

	p := newTestKiraCloud(t, srv.URL)
	p.client.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)

		return nil
	}

	err := p.UploadFile(context.Background(), "path", "name", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
}
