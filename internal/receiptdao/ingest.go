package receiptdao

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kira-app/kira/internal/checksum"
	"github.com/kira-app/kira/internal/filename"
	"github.com/kira-app/kira/internal/folder"
	"github.com/kira-app/kira/pkg/decimal"
)

// CaptureMetadata is the sidecar JSON document the (out-of-scope) capture
// component drops next to a receipt image: same base name, ".json"
// extension. It carries every field capture/OCR already resolved, since
// OCR heuristics are not this core's concern.
type CaptureMetadata struct {
	CapturedAt       time.Time `json:"captured_at"`
	Timezone         string    `json:"timezone"`
	AmountTracked    string    `json:"amount_tracked"`
	CurrencyCode     string    `json:"currency_code"`
	Country          string    `json:"country"`
	Region           string    `json:"region"`
	Category         string    `json:"category"`
	DeviceID         string    `json:"device_id"`
	CaptureSessionID string    `json:"capture_session_id"`
}

// fsWatcher narrows fsnotify.Watcher to the methods ingestWatcher needs, so
// tests can substitute a fake without touching a real filesystem watch.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type realFsWatcher struct {
	*fsnotify.Watcher
}

func (w *realFsWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w *realFsWatcher) Errors() <-chan error          { return w.Watcher.Errors }

// EnqueueFunc hands a freshly-inserted Receipt to the sync machinery.
// Declared here, at the consumer, so this package never imports
// internal/coordinator or internal/syncqueue.
type EnqueueFunc func(ctx context.Context, receipt Receipt) error

// folderResolver resolves a captured receipt's deterministic local mirror
// directory. Declared here, at the consumer, rather than imported as a
// concrete *folder.Service, so a test double can exercise ingest without
// touching disk beyond the capture drop directory itself.
type folderResolver interface {
	Resolve(date string, country folder.Country, workspaceID *string) (remoteRelPath, localAbsPath string, err error)
}

// Watcher watches a capture drop directory for (image, sidecar JSON) pairs
// and turns each complete pair into an inserted Receipt row plus an
// enqueued upload, mirroring "capture writes a file and a receipt row,
// then enqueues upload_image and upload_index".
type Watcher struct {
	store       *Store
	dir         string
	enqueue     EnqueueFunc
	folderSvc   folderResolver
	workspaceID *string
	logger      *slog.Logger

	newWatcher func() (fsWatcher, error)
}

// NewWatcher builds a Watcher over dir. dir is created if it does not yet
// exist, since a fresh workspace has no capture history. folderSvc resolves
// the local mirror directory each ingested image is moved into.
func NewWatcher(store *Store, dir string, enqueue EnqueueFunc, folderSvc folderResolver, workspaceID *string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("receiptdao: creating capture drop dir %s: %w", dir, err)
	}

	return &Watcher{
		store:       store,
		dir:         dir,
		enqueue:     enqueue,
		folderSvc:   folderSvc,
		workspaceID: workspaceID,
		logger:      logger,
		newWatcher: func() (fsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &realFsWatcher{w}, nil
		},
	}, nil
}

// Run blocks, ingesting capture drops until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("receiptdao: starting capture watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("receiptdao: watching %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handleEvent(ctx, ev)
		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("capture watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	if strings.ToLower(filepath.Ext(ev.Name)) != ".json" {
		return
	}

	if err := w.ingestSidecar(ctx, ev.Name); err != nil {
		w.logger.Warn("capture ingest failed", "sidecar", ev.Name, "error", err)
	}
}

// ingestSidecar reads a metadata sidecar, locates its matching image by
// base name, computes the image's checksum, allocates a receipt filename,
// inserts the Receipt row, and enqueues it.
func (w *Watcher) ingestSidecar(ctx context.Context, sidecarPath string) error {
	base := strings.TrimSuffix(sidecarPath, filepath.Ext(sidecarPath))

	imagePath, ok := findSiblingImage(base)
	if !ok {
		return fmt.Errorf("no image found alongside %s", sidecarPath)
	}

	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		return fmt.Errorf("reading sidecar: %w", err)
	}

	var meta CaptureMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decoding sidecar: %w", err)
	}

	sum, err := checksum.SHA256File(imagePath)
	if err != nil {
		return fmt.Errorf("checksumming %s: %w", imagePath, err)
	}

	if existing, found, err := w.store.FindByChecksum(ctx, sum); err != nil {
		return fmt.Errorf("checking for duplicate checksum: %w", err)
	} else if found {
		w.logger.Info("capture drop matches existing receipt, skipping", "receipt_id", existing.ReceiptID)

		return os.Remove(sidecarPath)
	}

	date := meta.CapturedAt.UTC().Format("2006-01-02")

	local, err := w.store.GetAllLocal(ctx)
	if err != nil {
		return fmt.Errorf("listing local receipts: %w", err)
	}

	fname, err := filename.Allocate(date, siblingFilenamesForDate(local, date), nil)
	if err != nil {
		return fmt.Errorf("allocating filename: %w", err)
	}

	amount, err := decimal.Parse(meta.AmountTracked)
	if err != nil {
		return fmt.Errorf("parsing amount_tracked %q: %w", meta.AmountTracked, err)
	}

	_, localDir, err := w.folderSvc.Resolve(date, folder.Country(meta.Country), w.workspaceID)
	if err != nil {
		return fmt.Errorf("resolving local mirror path: %w", err)
	}

	destPath := filepath.Join(localDir, fname)
	if err := os.Rename(imagePath, destPath); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", imagePath, destPath, err)
	}

	receipt := Receipt{
		ReceiptID:        NewReceiptID(),
		CapturedAt:       meta.CapturedAt,
		Timezone:         meta.Timezone,
		Filename:         fname,
		AmountTracked:    amount,
		CurrencyCode:     meta.CurrencyCode,
		Country:          meta.Country,
		Region:           meta.Region,
		Category:         meta.Category,
		ChecksumSHA256:   sum,
		DeviceID:         meta.DeviceID,
		CaptureSessionID: meta.CaptureSessionID,
		Source:           SourceCamera,
		LocalPath:        destPath,
	}

	if err := w.store.Insert(ctx, receipt); err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}

	if err := os.Remove(sidecarPath); err != nil {
		w.logger.Warn("could not remove consumed sidecar", "path", sidecarPath, "error", err)
	}

	if w.enqueue != nil {
		if err := w.enqueue(ctx, receipt); err != nil {
			return fmt.Errorf("enqueuing receipt %s: %w", receipt.ReceiptID, err)
		}
	}

	return nil
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".heic"}

func findSiblingImage(base string) (string, bool) {
	for _, ext := range imageExtensions {
		candidate := base + ext
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	return "", false
}

func siblingFilenamesForDate(receipts []Receipt, date string) []string {
	var names []string

	for _, r := range receipts {
		if strings.HasPrefix(r.Filename, date+"_") {
			names = append(names, r.Filename)
		}
	}

	return names
}
