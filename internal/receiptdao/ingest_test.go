package receiptdao

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kira-app/kira/internal/checksum"
	"github.com/kira-app/kira/internal/folder"
)

func testFolderService(t *testing.T) *folder.Service {
	t.Helper()

	return folder.New(func() (string, error) { return t.TempDir(), nil })
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "kira.db")
	store, err := Open(context.Background(), dbPath, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func writeCaptureDrop(t *testing.T, dir, base string, meta CaptureMetadata, imageBytes []byte) string {
	t.Helper()

	imagePath := filepath.Join(dir, base+".jpg")
	require.NoError(t, os.WriteFile(imagePath, imageBytes, 0o600))

	data, err := json.Marshal(meta)
	require.NoError(t, err)

	sidecarPath := filepath.Join(dir, base+".json")
	require.NoError(t, os.WriteFile(sidecarPath, data, 0o600))

	return sidecarPath
}

func sampleMeta() CaptureMetadata {
	return CaptureMetadata{
		CapturedAt:    time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC),
		Timezone:      "America/Toronto",
		AmountTracked: "12.34",
		CurrencyCode:  "CAD",
		Country:       "Canada",
		Category:      "Groceries",
	}
}

func TestIngestSidecarCreatesReceiptAndEnqueues(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	var enqueued []Receipt

	w, err := NewWatcher(store, dir, func(_ context.Context, r Receipt) error {
		enqueued = append(enqueued, r)
		return nil
	}, testFolderService(t), nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	sidecar := writeCaptureDrop(t, dir, "drop1", sampleMeta(), []byte("jpeg-bytes"))

	require.NoError(t, w.ingestSidecar(context.Background(), sidecar))

	require.Len(t, enqueued, 1)
	assert.Equal(t, "2025-06-14_1.jpg", enqueued[0].Filename)
	assert.Equal(t, SourceCamera, enqueued[0].Source)

	_, err = os.Stat(sidecar)
	assert.True(t, os.IsNotExist(err))

	got, err := store.GetByID(context.Background(), enqueued[0].ReceiptID)
	require.NoError(t, err)
	assert.Equal(t, "CAD", got.CurrencyCode)
}

func TestIngestSidecarSkipsDuplicateChecksum(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	imageBytes := []byte("duplicate-bytes")
	sum := shaOf(t, imageBytes)

	require.NoError(t, store.Insert(context.Background(), Receipt{
		ReceiptID:      "existing",
		Filename:       "2025-06-14_1.jpg",
		ChecksumSHA256: sum,
		CurrencyCode:   "CAD",
		Source:         SourceCamera,
	}))

	var enqueueCalls int

	w, err := NewWatcher(store, dir, func(_ context.Context, _ Receipt) error {
		enqueueCalls++
		return nil
	}, testFolderService(t), nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	sidecar := writeCaptureDrop(t, dir, "drop2", sampleMeta(), imageBytes)

	require.NoError(t, w.ingestSidecar(context.Background(), sidecar))
	assert.Equal(t, 0, enqueueCalls)

	_, err = os.Stat(sidecar)
	assert.True(t, os.IsNotExist(err))
}

func TestIngestSidecarMissingImageErrors(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	w, err := NewWatcher(store, dir, nil, testFolderService(t), nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	data, err := json.Marshal(sampleMeta())
	require.NoError(t, err)

	sidecar := filepath.Join(dir, "orphan.json")
	require.NoError(t, os.WriteFile(sidecar, data, 0o600))

	err = w.ingestSidecar(context.Background(), sidecar)
	require.Error(t, err)
}

func shaOf(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tmp.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	sum, err := checksum.SHA256File(path)
	require.NoError(t, err)

	return sum
}

// fakeFsWatcher lets TestRun exercise the event-dispatch loop without a
// real filesystem watch.
type fakeFsWatcher struct {
	events chan fsnotify.Event
	errs   chan error
	added  []string
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		events: make(chan fsnotify.Event, 4),
		errs:   make(chan error, 4),
	}
}

func (f *fakeFsWatcher) Add(name string) error         { f.added = append(f.added, name); return nil }
func (f *fakeFsWatcher) Close() error                  { close(f.events); close(f.errs); return nil }
func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeFsWatcher) Errors() <-chan error          { return f.errs }

func TestRunIngestsOnCreateEvent(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	enqueued := make(chan Receipt, 1)

	w, err := NewWatcher(store, dir, func(_ context.Context, r Receipt) error {
		enqueued <- r
		return nil
	}, testFolderService(t), nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	fake := newFakeFsWatcher()
	w.newWatcher = func() (fsWatcher, error) { return fake, nil }

	sidecar := writeCaptureDrop(t, dir, "drop3", sampleMeta(), []byte("run-bytes"))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	fake.events <- fsnotify.Event{Name: sidecar, Op: fsnotify.Create}

	select {
	case r := <-enqueued:
		assert.Equal(t, "2025-06-14_1.jpg", r.Filename)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ingest")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{dir}, fake.added)
}
