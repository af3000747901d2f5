package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// DriveAPIBaseURL is the Google Drive v3 REST endpoint.
const DriveAPIBaseURL = "https://www.googleapis.com/drive/v3"

// DriveUploadBaseURL is the Drive v3 multipart upload endpoint.
const DriveUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"

// driveFile is the subset of a Drive file resource this provider needs.
type driveFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// driveFolderMimeType is Drive's sentinel MIME type for folders.
const driveFolderMimeType = "application/vnd.google-apps.folder"

// DriveProvider implements storage.Provider against Google Drive. Drive
// addresses objects by opaque file ID rather than path, so this provider
// maintains an in-memory id-by-path cache, resolved lazily and populated
// as folders are created or discovered.
type DriveProvider struct {
	client       *restClient
	uploadClient *restClient

	mu       sync.Mutex
	idByPath map[string]string // "" => root
}

// NewDriveProvider builds a Drive-backed Provider authenticated with tok.
func NewDriveProvider(tok bearerSource) *DriveProvider {
	return &DriveProvider{
		client:       newRESTClient("drive", DriveAPIBaseURL, nil, tok, nil),
		uploadClient: newRESTClient("drive", DriveUploadBaseURL, nil, tok, nil),
		idByPath:     map[string]string{"": "root"},
	}
}

func (p *DriveProvider) CreateFolder(ctx context.Context, relPath string) error {
	_, err := p.resolveOrCreateFolder(ctx, relPath)

	return err
}

// resolveOrCreateFolder walks relPath component by component, creating any
// missing folder, and returns the leaf folder's Drive ID.
func (p *DriveProvider) resolveOrCreateFolder(ctx context.Context, relPath string) (string, error) {
	relPath = strings.Trim(relPath, "/")
	if relPath == "" {
		return "root", nil
	}

	p.mu.Lock()
	if id, ok := p.idByPath[relPath]; ok {
		p.mu.Unlock()

		return id, nil
	}
	p.mu.Unlock()

	parentID := "root"
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

		id, err := p.findChildID(ctx, parentID, seg, driveFolderMimeType)
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

func (p *DriveProvider) findChildID(ctx context.Context, parentID, name, mimeType string) (string, error) {
	q := fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false", parentID, escapeQuery(name))
	if mimeType != "" {
		q += fmt.Sprintf(" and mimeType = '%s'", mimeType)
	}

	resp, err := p.client.do(ctx, http.MethodGet,
		"/files?q="+url.QueryEscape(q)+"&fields=files(id,name,mimeType)", nil, nil)
	if err != nil {
		return "", fmt.Errorf("storage(drive): listing children of %s: %w", parentID, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return "", err
	}

	var out struct {
		Files []driveFile `json:"files"`
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("storage(drive): decoding children of %s: %w", parentID, err)
	}

	if len(out.Files) == 0 {
		return "", nil
	}

	return out.Files[0].ID, nil
}

func (p *DriveProvider) createChildFolder(ctx context.Context, parentID, name string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": driveFolderMimeType,
		"parents":  []string{parentID},
	})
	if err != nil {
		return "", fmt.Errorf("storage(drive): encoding folder create: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPost, "/files", jsonHeaders(), body)
	if err != nil {
		return "", fmt.Errorf("storage(drive): creating folder %s under %s: %w", name, parentID, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return "", err
	}

	var f driveFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("storage(drive): decoding created folder %s: %w", name, err)
	}

	return f.ID, nil
}

func (p *DriveProvider) ListFiles(ctx context.Context, relPath string) ([]string, error) {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("'%s' in parents and trashed = false", folderID)

	resp, err := p.client.do(ctx, http.MethodGet,
		"/files?q="+url.QueryEscape(q)+"&fields=files(id,name,mimeType)", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("storage(drive): listing %s: %w", relPath, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var out struct {
		Files []driveFile `json:"files"`
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("storage(drive): decoding listing of %s: %w", relPath, err)
	}

	names := make([]string, 0, len(out.Files))
	for _, f := range out.Files {
		if f.MimeType == driveFolderMimeType {
			continue
		}

		names = append(names, f.Name)
	}

	return names, nil
}

func (p *DriveProvider) UploadFile(ctx context.Context, relPath, name string, data []byte) error {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return err
	}

	meta, err := json.Marshal(map[string]any{"name": name, "parents": []string{folderID}})
	if err != nil {
		return fmt.Errorf("storage(drive): encoding upload metadata: %w", err)
	}

	payload := buildMultipartRelated(meta, data)

	headers := http.Header{}
	headers.Set("Content-Type", "multipart/related; boundary="+multipartBoundary)

	resp, err := p.uploadClient.do(ctx, http.MethodPost,
		"/files?uploadType=multipart", headers, payload)
	if err != nil {
		return fmt.Errorf("storage(drive): uploading %s/%s: %w", relPath, name, err)
	}

	resp.Body.Close()

	return nil
}

func (p *DriveProvider) DownloadFile(ctx context.Context, relPath, name string) ([]byte, bool, error) {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return nil, false, err
	}

	fileID, err := p.findChildID(ctx, folderID, name, "")
	if err != nil {
		return nil, false, err
	}

	if fileID == "" {
		return nil, false, nil
	}

	resp, err := p.client.do(ctx, http.MethodGet, "/files/"+fileID+"?alt=media", nil, nil)
	if err != nil {
		var nf *StorageNotFound
		if errors.As(err, &nf) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("storage(drive): downloading %s/%s: %w", relPath, name, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

func (p *DriveProvider) ReadTextFile(ctx context.Context, relPath string) (string, bool, error) {
	data, ok, err := p.DownloadFile(ctx, pathDir(relPath), pathBase(relPath))

	return string(data), ok, err
}

func (p *DriveProvider) WriteTextFile(ctx context.Context, relPath, content string) error {
	return p.UploadFile(ctx, pathDir(relPath), pathBase(relPath), []byte(content))
}

func (p *DriveProvider) MoveFile(ctx context.Context, srcPath, dstPath string) error {
	srcFolderID, err := p.resolveOrCreateFolder(ctx, pathDir(srcPath))
	if err != nil {
		return err
	}

	fileID, err := p.findChildID(ctx, srcFolderID, pathBase(srcPath), "")
	if err != nil {
		return err
	}

	if fileID == "" {
		return &StorageNotFound{Provider: "drive", Path: srcPath}
	}

	dstFolderID, err := p.resolveOrCreateFolder(ctx, pathDir(dstPath))
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{"name": pathBase(dstPath)})
	if err != nil {
		return fmt.Errorf("storage(drive): encoding rename: %w", err)
	}

	resp, err := p.client.do(ctx, http.MethodPatch,
		"/files/"+fileID+"?addParents="+dstFolderID+"&removeParents="+srcFolderID,
		jsonHeaders(), body)
	if err != nil {
		return fmt.Errorf("storage(drive): moving %s to %s: %w", srcPath, dstPath, err)
	}

	resp.Body.Close()

	return nil
}

func (p *DriveProvider) FileExists(ctx context.Context, relPath, name string) (bool, error) {
	folderID, err := p.resolveOrCreateFolder(ctx, relPath)
	if err != nil {
		return false, err
	}

	id, err := p.findChildID(ctx, folderID, name, "")
	if err != nil {
		return false, err
	}

	return id != "", nil
}

func (p *DriveProvider) Authenticate(ctx context.Context) error {
	_, err := p.client.token.BearerToken()

	return err
}

func (p *DriveProvider) IsAuthenticated(ctx context.Context) bool {
	_, err := p.client.token.BearerToken()

	return err == nil
}

func (p *DriveProvider) Logout(ctx context.Context) error {
	return nil
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

const multipartBoundary = "kira-drive-upload-boundary"

// buildMultipartRelated builds a two-part multipart/related body (JSON
// metadata + binary content) as required by Drive's multipart upload type.
func buildMultipartRelated(metadata, content []byte) []byte {
	var b strings.Builder

	b.WriteString("--" + multipartBoundary + "\r\n")
	b.WriteString("Content-Type: application/json; charset=UTF-8\r\n\r\n")
	b.Write(metadata)
	b.WriteString("\r\n--" + multipartBoundary + "\r\n")
	b.WriteString("Content-Type: application/octet-stream\r\n\r\n")
	b.Write(content)
	b.WriteString("\r\n--" + multipartBoundary + "--")

	return []byte(b.String())
}
