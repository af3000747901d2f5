package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
)

// DropboxAPIBaseURL is the Dropbox API v2 JSON RPC endpoint.
const DropboxAPIBaseURL = "https://api.dropboxapi.com/2"

// DropboxContentBaseURL is the Dropbox API v2 content endpoint, used for
// upload/download bodies (as opposed to JSON metadata calls).
const DropboxContentBaseURL = "https://content.dropboxapi.com/2"

// DropboxProvider implements storage.Provider against Dropbox. Unlike
// Drive, Dropbox addresses objects by literal path, so no id-by-path cache
// is needed.
type DropboxProvider struct {
	rpc     *restClient
	content *restClient
}

// NewDropboxProvider builds a Dropbox-backed Provider authenticated with tok.
func NewDropboxProvider(tok bearerSource) *DropboxProvider {
	return &DropboxProvider{
		rpc:     newRESTClient("dropbox", DropboxAPIBaseURL, nil, tok, nil),
		content: newRESTClient("dropbox", DropboxContentBaseURL, nil, tok, nil),
	}
}

func dropboxPath(p string) string {
	if p == "" || p == "/" {
		return ""
	}

	return "/" + p
}

func (p *DropboxProvider) CreateFolder(ctx context.Context, relPath string) error {
	body, err := json.Marshal(map[string]any{"path": dropboxPath(relPath), "autorename": false})
	if err != nil {
		return fmt.Errorf("storage(dropbox): encoding create-folder: %w", err)
	}

	resp, err := p.rpc.do(ctx, http.MethodPost, "/files/create_folder_v2", jsonHeaders(), body)
	if err != nil {
		// Dropbox returns 409 (classified as StorageOther by the generic
		// taxonomy) when the folder already exists; treat that as success.
		var other *StorageOther
		if errors.As(err, &other) && other.StatusCode == http.StatusConflict {
			return nil
		}

		return fmt.Errorf("storage(dropbox): creating folder %s: %w", relPath, err)
	}

	resp.Body.Close()

	return nil
}

func (p *DropboxProvider) ListFiles(ctx context.Context, relPath string) ([]string, error) {
	body, err := json.Marshal(map[string]any{"path": dropboxPath(relPath)})
	if err != nil {
		return nil, fmt.Errorf("storage(dropbox): encoding list request: %w", err)
	}

	resp, err := p.rpc.do(ctx, http.MethodPost, "/files/list_folder", jsonHeaders(), body)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}

		return nil, fmt.Errorf("storage(dropbox): listing %s: %w", relPath, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var out struct {
		Entries []struct {
			Tag  string `json:".tag"`
			Name string `json:"name"`
		} `json:"entries"`
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("storage(dropbox): decoding listing of %s: %w", relPath, err)
	}

	names := make([]string, 0, len(out.Entries))
	for _, e := range out.Entries {
		if e.Tag == "file" {
			names = append(names, e.Name)
		}
	}

	return names, nil
}

func (p *DropboxProvider) UploadFile(ctx context.Context, relPath, name string, data []byte) error {
	argHeader, err := json.Marshal(map[string]any{
		"path":       dropboxPath(path.Join(relPath, name)),
		"mode":       "add",
		"autorename": false,
		"mute":       true,
	})
	if err != nil {
		return fmt.Errorf("storage(dropbox): encoding upload args: %w", err)
	}

	headers := binaryHeaders()
	headers.Set("Dropbox-API-Arg", string(argHeader))

	resp, err := p.content.do(ctx, http.MethodPost, "/files/upload", headers, data)
	if err != nil {
		return fmt.Errorf("storage(dropbox): uploading %s/%s: %w", relPath, name, err)
	}

	resp.Body.Close()

	return nil
}

func (p *DropboxProvider) DownloadFile(ctx context.Context, relPath, name string) ([]byte, bool, error) {
	argHeader, err := json.Marshal(map[string]string{"path": dropboxPath(path.Join(relPath, name))})
	if err != nil {
		return nil, false, fmt.Errorf("storage(dropbox): encoding download args: %w", err)
	}

	headers := http.Header{}
	headers.Set("Dropbox-API-Arg", string(argHeader))

	resp, err := p.content.do(ctx, http.MethodPost, "/files/download", headers, nil)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("storage(dropbox): downloading %s/%s: %w", relPath, name, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (p *DropboxProvider) ReadTextFile(ctx context.Context, relPath string) (string, bool, error) {
	data, ok, err := p.DownloadFile(ctx, path.Dir(relPath), path.Base(relPath))

	return string(data), ok, err
}

func (p *DropboxProvider) WriteTextFile(ctx context.Context, relPath, content string) error {
	return p.UploadFile(ctx, path.Dir(relPath), path.Base(relPath), []byte(content))
}

func (p *DropboxProvider) MoveFile(ctx context.Context, srcPath, dstPath string) error {
	body, err := json.Marshal(map[string]any{
		"from_path":  dropboxPath(srcPath),
		"to_path":    dropboxPath(dstPath),
		"autorename": false,
	})
	if err != nil {
		return fmt.Errorf("storage(dropbox): encoding move request: %w", err)
	}

	resp, err := p.rpc.do(ctx, http.MethodPost, "/files/move_v2", jsonHeaders(), body)
	if err != nil {
		return fmt.Errorf("storage(dropbox): moving %s to %s: %w", srcPath, dstPath, err)
	}

	resp.Body.Close()

	return nil
}

func (p *DropboxProvider) FileExists(ctx context.Context, relPath, name string) (bool, error) {
	entries, err := p.ListFiles(ctx, relPath)
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

func (p *DropboxProvider) Authenticate(ctx context.Context) error {
	_, err := p.rpc.token.BearerToken()

	return err
}

func (p *DropboxProvider) IsAuthenticated(ctx context.Context) bool {
	_, err := p.rpc.token.BearerToken()

	return err == nil
}

func (p *DropboxProvider) Logout(ctx context.Context) error {
	return nil
}
