package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// bearerSource provides OAuth2 bearer tokens. Declared at the consumer
// (storage/) per "accept interfaces, return structs" — every OAuth-based
// provider in this package depends on this narrow interface, not on
// driveauth.PersistingTokenSource directly.
type bearerSource interface {
	BearerToken() (string, error)
}

// restClient is the shared HTTP client every OAuth-based provider builds
// on: request construction, bearer auth, retry with backoff, and error
// classification via retryDo.
type restClient struct {
	name       string
	baseURL    string
	httpClient *http.Client
	token      bearerSource
	logger     *slog.Logger
	sleep      sleepFunc
}

func newRESTClient(name, baseURL string, httpClient *http.Client, token bearerSource, logger *slog.Logger) *restClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &restClient{name: name, baseURL: baseURL, httpClient: httpClient, token: token, logger: logger}
}

// do issues an authenticated request with a fully-buffered body (so the
// body can be safely replayed on retry) and returns the response on
// success (2xx); non-2xx responses are classified into the storage error
// taxonomy.
func (c *restClient) do(ctx context.Context, method, path string, headers http.Header, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	return retryDo(ctx, c.logger, c.name, c.sleep, func(ctx context.Context) (*http.Response, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("storage(%s): building request: %w", c.name, err)
		}

		tok, err := c.token.BearerToken()
		if err != nil {
			return nil, fmt.Errorf("storage(%s): obtaining token: %w", c.name, err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)

		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		return c.httpClient.Do(req)
	})
}

// readBody reads and closes a response body, returning its bytes.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: reading response body: %w", err)
	}

	return data, nil
}
