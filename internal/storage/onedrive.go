package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
)

// OneDriveAPIBaseURL is the Microsoft Graph v1.0 endpoint, the same one
// the teacher's graph.Client targets — this provider reuses that client's
// request/retry shape almost verbatim, generalized from sync-engine
// actions onto the uniform Provider surface.
const OneDriveAPIBaseURL = "https://graph.microsoft.com/v1.0"

// OneDriveProvider implements storage.Provider against the user's default
// OneDrive via Microsoft Graph's path-addressing syntax
// (/me/drive/root:/path/to/item:).
type OneDriveProvider struct {
	client *restClient
}

// NewOneDriveProvider builds a OneDrive-backed Provider authenticated with tok.
func NewOneDriveProvider(tok bearerSource) *OneDriveProvider {
	return &OneDriveProvider{client: newRESTClient("onedrive", OneDriveAPIBaseURL, nil, tok, nil)}
}

// itemPathRef builds a Graph path-addressed item reference for relPath,
// rooted at the drive's root folder.
func itemPathRef(relPath string) string {
	relPath = path.Clean("/" + relPath)
	if relPath == "/" || relPath == "." {
		return "/me/drive/root"
	}

	return "/me/drive/root:" + url.PathEscape(relPath) + ":"
}

func (p *OneDriveProvider) CreateFolder(ctx context.Context, relPath string) error {
	parent := itemPathRef(path.Dir(relPath))
	name := path.Base(relPath)

	body, err := json.Marshal(map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "replace",
	})
	if err != nil {
		return fmt.Errorf("storage(onedrive): encoding create-folder: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPost, parent+"/children", jsonHeaders(), body)
	if err != nil {
		return fmt.Errorf("storage(onedrive): creating folder %s: %w", relPath, err)
	}

	resp.Body.Close()

	return nil
}

func (p *OneDriveProvider) ListFiles(ctx context.Context, relPath string) ([]string, error) {
	resp, err := p.client.do(ctx, http.MethodGet,
		itemPathRef(relPath)+"/children?$select=name,folder", nil, nil)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, nil
		}

		return nil, fmt.Errorf("storage(onedrive): listing %s: %w", relPath, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var out struct {
		Value []struct {
			Name   string `json:"name"`
			Folder any    `json:"folder"`
		} `json:"value"`
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("storage(onedrive): decoding listing of %s: %w", relPath, err)
	}

	names := make([]string, 0, len(out.Value))
	for _, v := range out.Value {
		if v.Folder == nil {
			names = append(names, v.Name)
		}
	}

	return names, nil
}

func (p *OneDriveProvider) UploadFile(ctx context.Context, relPath, name string, data []byte) error {
	resp, err := p.client.do(ctx, http.MethodPut,
		itemPathRef(path.Join(relPath, name))+"/content", binaryHeaders(), data)
	if err != nil {
		return fmt.Errorf("storage(onedrive): uploading %s/%s: %w", relPath, name, err)
	}

	resp.Body.Close()

	return nil
}

func (p *OneDriveProvider) DownloadFile(ctx context.Context, relPath, name string) ([]byte, bool, error) {
	resp, err := p.client.do(ctx, http.MethodGet, itemPathRef(path.Join(relPath, name))+"/content", nil, nil)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("storage(onedrive): downloading %s/%s: %w", relPath, name, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (p *OneDriveProvider) ReadTextFile(ctx context.Context, relPath string) (string, bool, error) {
	data, ok, err := p.DownloadFile(ctx, path.Dir(relPath), path.Base(relPath))

	return string(data), ok, err
}

func (p *OneDriveProvider) WriteTextFile(ctx context.Context, relPath, content string) error {
	return p.UploadFile(ctx, path.Dir(relPath), path.Base(relPath), []byte(content))
}

func (p *OneDriveProvider) MoveFile(ctx context.Context, srcPath, dstPath string) error {
	body, err := json.Marshal(map[string]any{
		"parentReference": map[string]string{"path": "/drive/root:" + path.Dir(dstPath)},
		"name":            path.Base(dstPath),
	})
	if err != nil {
		return fmt.Errorf("storage(onedrive): encoding move: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPatch, itemPathRef(srcPath), jsonHeaders(), body)
	if err != nil {
		return fmt.Errorf("storage(onedrive): moving %s to %s: %w", srcPath, dstPath, err)
	}

	resp.Body.Close()

	return nil
}

func (p *OneDriveProvider) FileExists(ctx context.Context, relPath, name string) (bool, error) {
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

func (p *OneDriveProvider) Authenticate(ctx context.Context) error {
	_, err := p.client.token.BearerToken()

	return err
}

func (p *OneDriveProvider) IsAuthenticated(ctx context.Context) bool {
	_, err := p.client.token.BearerToken()

	return err == nil
}

func (p *OneDriveProvider) Logout(ctx context.Context) error {
	return nil
}
