package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"sync"
)

// BoxAPIBaseURL is the Box Content API v2.0 endpoint.
const BoxAPIBaseURL = "https://api.box.com/2.0"

// BoxUploadBaseURL is Box's dedicated upload endpoint.
const BoxUploadBaseURL = "https://upload.box.com/api/2.0"

// boxItem is the subset of a Box file/folder entry this provider needs.
type boxItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// BoxProvider implements storage.Provider against Box. Like Drive, Box
// addresses objects by opaque ID, so this provider keeps an id-by-path
// cache identical in spirit to DriveProvider's.
type BoxProvider struct {
	client       *restClient
	uploadClient *restClient

	mu       sync.Mutex
	idByPath map[string]string // "" => "0" (Box's root folder ID)
}

// NewBoxProvider builds a Box-backed Provider authenticated with tok.
func NewBoxProvider(tok bearerSource) *BoxProvider {
	return &BoxProvider{
		client:       newRESTClient("box", BoxAPIBaseURL, nil, tok, nil),
		uploadClient: newRESTClient("box", BoxUploadBaseURL, nil, tok, nil),
		idByPath:     map[string]string{"": "0"},
	}
}

func (p *BoxProvider) CreateFolder(ctx context.Context, relPath string) error {
	_, err := p.resolveOrCreateFolder(ctx, relPath)

	return err
}

func (p *BoxProvider) resolveOrCreateFolder(ctx context.Context, relPath string) (string, error) {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return "0", nil
	}

	p.mu.Lock()
	if id, ok := p.idByPath[relPath]; ok {
		p.mu.Unlock()

		return id, nil
	}
	p.mu.Unlock()

	parentID := "0"
	built := ""

	for _, seg := range strings.Split(relPath, "/") {
		built = strings.TrimPrefix(built+"/"+seg, "/")

		p.mu.Lock()
		cached, ok := p.idByPath[built]
		p.mu.Unlock()

		if ok {
			parentID = cached

			continue
		}

		id, err := p.findChild(ctx, parentID, seg)
		if err != nil {
			return "", err
		}

		if id == "" {
			id, err = p.createChildFolder(ctx, parentID, seg)
			if err != nil {
				return "", err
			}
		}

		p.mu.Lock()
		p.idByPath[built] = id
		p.mu.Unlock()

		parentID = id
	}

	return parentID, nil
}

func (p *BoxProvider) findChild(ctx context.Context, parentID, name string) (string, error) {
	items, err := p.listFolder(ctx, parentID)
	if err != nil {
		return "", err
	}

	for _, it := range items {
		if it.Name == name {
			return it.ID, nil
		}
	}

	return "", nil
}

func (p *BoxProvider) listFolder(ctx context.Context, folderID string) ([]boxItem, error) {
	resp, err := p.client.do(ctx, http.MethodGet,
		"/folders/"+folderID+"/items?fields=id,name,type", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("storage(box): listing folder %s: %w", folderID, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var out struct {
		Entries []boxItem `json:"entries"`
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("storage(box): decoding folder %s: %w", folderID, err)
	}

	return out.Entries, nil
}

func (p *BoxProvider) createChildFolder(ctx context.Context, parentID, name string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":   name,
		"parent": map[string]string{"id": parentID},
	})
	if err != nil {
		return "", fmt.Errorf("storage(box): encoding folder create: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPost, "/folders", jsonHeaders(), body)
	if err != nil {
		return "", fmt.Errorf("storage(box): creating folder %s under %s: %w", name, parentID, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return "", err
	}

	var item boxItem
	if err := json.Unmarshal(data, &item); err != nil {
		return "", fmt.Errorf("storage(box): decoding created folder %s: %w", name, err)
	}

	return item.ID, nil
}

func (p *BoxProvider) ListFiles(ctx context.Context, relPath string) ([]string, error) {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return nil, err
	}

	items, err := p.listFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.Type == "file" {
			names = append(names, it.Name)
		}
	}

	return names, nil
}

func (p *BoxProvider) UploadFile(ctx context.Context, relPath, name string, data []byte) error {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return err
	}

	attrs, err := json.Marshal(map[string]any{
		"name":   name,
		"parent": map[string]string{"id": folderID},
	})
	if err != nil {
		return fmt.Errorf("storage(box): encoding upload attributes: %w", err)
	}

	body, contentType, err := buildBoxUploadBody(attrs, name, data)
	if err != nil {
		return fmt.Errorf("storage(box): building upload body: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", contentType)

	resp, err := p.uploadClient.do(ctx, http.MethodPost, "/files/content", headers, body)
	if err != nil {
		return fmt.Errorf("storage(box): uploading %s/%s: %w", relPath, name, err)
	}

	resp.Body.Close()

	return nil
}

func buildBoxUploadBody(attrs []byte, filename string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("attributes", string(attrs)); err != nil {
		return nil, "", err
	}

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}

	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func (p *BoxProvider) DownloadFile(ctx context.Context, relPath, name string) ([]byte, bool, error) {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return nil, false, err
	}

	fileID, err := p.findChild(ctx, folderID, name)
	if err != nil {
		return nil, false, err
	}

	if fileID == "" {
		return nil, false, nil
	}

	resp, err := p.client.do(ctx, http.MethodGet, "/files/"+fileID+"/content", nil, nil)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("storage(box): downloading %s/%s: %w", relPath, name, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (p *BoxProvider) ReadTextFile(ctx context.Context, relPath string) (string, bool, error) {
	data, ok, err := p.DownloadFile(ctx, path.Dir(relPath), path.Base(relPath))

	return string(data), ok, err
}

func (p *BoxProvider) WriteTextFile(ctx context.Context, relPath, content string) error {
	return p.UploadFile(ctx, path.Dir(relPath), path.Base(relPath), []byte(content))
}

func (p *BoxProvider) MoveFile(ctx context.Context, srcPath, dstPath string) error {
	srcFolderID, err := p.resolveOrCreateFolder(ctx, path.Dir(srcPath))
	if err != nil {
		return err
	}

	fileID, err := p.findChild(ctx, srcFolderID, path.Base(srcPath))
	if err != nil {
		return err
	}

	if fileID == "" {
		return &StorageNotFound{Provider: "box", Path: srcPath}
	}

	dstFolderID, err := p.resolveOrCreateFolder(ctx, path.Dir(dstPath))
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"name":   path.Base(dstPath),
		"parent": map[string]string{"id": dstFolderID},
	})
	if err != nil {
		return fmt.Errorf("storage(box): encoding move: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPut, "/files/"+fileID, jsonHeaders(), body)
	if err != nil {
		return fmt.Errorf("storage(box): moving %s to %s: %w", srcPath, dstPath, err)
	}

	resp.Body.Close()

	return nil
}

func (p *BoxProvider) FileExists(ctx context.Context, relPath, name string) (bool, error) {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return false, err
	}

	id, err := p.findChild(ctx, folderID, name)
	if err != nil {
		return false, err
	}

	return id != "", nil
}

func (p *BoxProvider) Authenticate(ctx context.Context) error {
	_, err := p.client.token.BearerToken()

	return err
}

func (p *BoxProvider) IsAuthenticated(ctx context.Context) bool {
	_, err := p.client.token.BearerToken()

	return err == nil
}

func (p *BoxProvider) Logout(ctx context.Context) error {
	return nil
}
