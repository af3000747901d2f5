package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// KiraCloudBaseURL is the production endpoint for Kira's own storage
// backend, the simplest provider: a generic REST API with a one-to-one
// mapping onto the Provider interface (no vendor-specific path or upload
// quirks to work around).
const KiraCloudBaseURL = "https://api.kira.app/v1/storage"

// KiraCloudProvider talks to Kira's own backend. Its API shape is
// intentionally the Provider interface verbatim, so every other provider
// is an adapter onto something like this one.
type KiraCloudProvider struct {
	client *restClient
}

// NewKiraCloudProvider builds a provider backed by baseURL, authenticated
// with tok.
func NewKiraCloudProvider(baseURL string, tok bearerSource) *KiraCloudProvider {
	return &KiraCloudProvider{client: newRESTClient("kiracloud", baseURL, nil, tok, nil)}
}

func (p *KiraCloudProvider) CreateFolder(ctx context.Context, path string) error {
	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return fmt.Errorf("storage(kiracloud): encoding create-folder request: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPost, "/folders", jsonHeaders(), body)
	if err != nil {
		return fmt.Errorf("storage(kiracloud): creating folder %s: %w", path, err)
	}

	resp.Body.Close()

	return nil
}

func (p *KiraCloudProvider) ListFiles(ctx context.Context, path string) ([]string, error) {
	resp, err := p.client.do(ctx, http.MethodGet, "/folders?path="+url.QueryEscape(path), nil, nil)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}

		return nil, fmt.Errorf("storage(kiracloud): listing %s: %w", path, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var out struct {
		Entries []string `json:"entries"`
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("storage(kiracloud): decoding listing of %s: %w", path, err)
	}

	return out.Entries, nil
}

func (p *KiraCloudProvider) UploadFile(ctx context.Context, path, name string, data []byte) error {
	resp, err := p.client.do(ctx, http.MethodPut,
		"/files?path="+url.QueryEscape(path)+"&name="+url.QueryEscape(name),
		binaryHeaders(), data)
	if err != nil {
		return fmt.Errorf("storage(kiracloud): uploading %s/%s: %w", path, name, err)
	}

	resp.Body.Close()

	return nil
}

func (p *KiraCloudProvider) DownloadFile(ctx context.Context, path, name string) ([]byte, bool, error) {
	resp, err := p.client.do(ctx, http.MethodGet,
		"/files?path="+url.QueryEscape(path)+"&name="+url.QueryEscape(name), nil, nil)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("storage(kiracloud): downloading %s/%s: %w", path, name, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (p *KiraCloudProvider) ReadTextFile(ctx context.Context, path string) (string, bool, error) {
	data, ok, err := p.DownloadFile(ctx, pathDir(path), pathBase(path))

	return string(data), ok, err
}

func (p *KiraCloudProvider) WriteTextFile(ctx context.Context, path, content string) error {
	return p.UploadFile(ctx, pathDir(path), pathBase(path), []byte(content))
}

func (p *KiraCloudProvider) MoveFile(ctx context.Context, srcPath, dstPath string) error {
	body, err := json.Marshal(map[string]string{"src": srcPath, "dst": dstPath})
	if err != nil {
		return fmt.Errorf("storage(kiracloud): encoding move request: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPost, "/move", jsonHeaders(), body)
	if err != nil {
		return fmt.Errorf("storage(kiracloud): moving %s to %s: %w", srcPath, dstPath, err)
	}

	resp.Body.Close()

	return nil
}

func (p *KiraCloudProvider) FileExists(ctx context.Context, path, name string) (bool, error) {
	entries, err := p.ListFiles(ctx, path)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if e == name {
			return true, nil
		}
	}

	return false, nil
}

// Authenticate makes no request for KiraCloudProvider: authentication
// happens out-of-band via the bearerSource supplied at construction (a Kira
// account token, not a third-party OAuth dance). It only returns the error,
// if any, from fetching that token.
func (p *KiraCloudProvider) Authenticate(ctx context.Context) error {
	_, err := p.client.token.BearerToken()

	return err
}

func (p *KiraCloudProvider) IsAuthenticated(ctx context.Context) bool {
	_, err := p.client.token.BearerToken()

	return err == nil
}

func (p *KiraCloudProvider) Logout(ctx context.Context) error {
	return nil
}

func jsonHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	return h
}

func binaryHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/octet-stream")

	return h
}
