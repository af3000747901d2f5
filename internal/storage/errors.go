package storage

import (
	"fmt"
	"net/http"
)

// Sentinel errors for the closed taxonomy every provider classifies its
// failures into. Callers use errors.Is/errors.As against these rather than
// inspecting provider-specific status codes.
var (
	ErrAuth       = fmt.Errorf("storage: authentication required or expired")
	ErrNotFound   = fmt.Errorf("storage: resource not found")
	ErrQuota      = fmt.Errorf("storage: quota or rate limit exceeded")
	ErrTransient  = fmt.Errorf("storage: transient failure, retry may succeed")
	ErrOther      = fmt.Errorf("storage: provider returned an unclassified error")
)

// StorageAuthError indicates the provider rejected or expired credentials.
// Re-authentication is required before retrying.
type StorageAuthError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StorageAuthError) Error() string {
	return fmt.Sprintf("storage(%s): auth error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *StorageAuthError) Unwrap() error { return ErrAuth }

// StorageNotFound indicates the requested path or file does not exist.
type StorageNotFound struct {
	Provider string
	Path     string
}

func (e *StorageNotFound) Error() string {
	return fmt.Sprintf("storage(%s): not found: %s", e.Provider, e.Path)
}

func (e *StorageNotFound) Unwrap() error { return ErrNotFound }

// StorageQuota indicates the account is over quota or has been rate limited
// past the point where retry is sensible.
type StorageQuota struct {
	Provider string
	Message  string
}

func (e *StorageQuota) Error() string {
	return fmt.Sprintf("storage(%s): quota exceeded: %s", e.Provider, e.Message)
}

func (e *StorageQuota) Unwrap() error { return ErrQuota }

// RetryableTransient wraps a transient failure (network error, 408 or 5xx)
// that exhausted its retry budget. A 429 that exhausts it is reported as
// StorageQuota instead.
type RetryableTransient struct {
	Provider string
	Code     int
	Message  string
}

func (e *RetryableTransient) Error() string {
	return fmt.Sprintf("storage(%s): transient failure after retries (HTTP %d): %s", e.Provider, e.Code, e.Message)
}

func (e *RetryableTransient) Unwrap() error { return ErrTransient }

// StorageOther is the catch-all for provider responses that don't fit the
// other categories — still wrapped so callers can at least see the
// provider and status code.
type StorageOther struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StorageOther) Error() string {
	return fmt.Sprintf("storage(%s): HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *StorageOther) Unwrap() error { return ErrOther }

// classifyStatus maps an HTTP status code and provider name to a typed
// taxonomy error. Returns nil for 2xx.
func classifyStatus(provider string, code int, body string) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &StorageAuthError{Provider: provider, StatusCode: code, Message: body}
	case code == http.StatusNotFound:
		return &StorageNotFound{Provider: provider, Path: body}
	case code == http.StatusTooManyRequests:
		return &StorageQuota{Provider: provider, Message: body}
	case isRetryableStatus(code):
		return &RetryableTransient{Provider: provider, Code: code, Message: body}
	default:
		return &StorageOther{Provider: provider, StatusCode: code, Message: body}
	}
}

// isRetryableStatus reports whether a status code should be retried before
// being classified into a terminal taxonomy error.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
