package backfill

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kira-app/kira/internal/checksum"
	"github.com/kira-app/kira/internal/folder"
	"github.com/kira-app/kira/internal/indexservice"
	"github.com/kira-app/kira/internal/receiptdao"
	"github.com/kira-app/kira/internal/storage"
	"github.com/kira-app/kira/pkg/decimal"
)

type fakeBackend struct {
	synced []string
	alerts []string
}

func (f *fakeBackend) MarkUploadedUnindexed(_ context.Context, _ string, _ string) error { return nil }

func (f *fakeBackend) MarkSynced(_ context.Context, receiptID, _ string) error {
	f.synced = append(f.synced, receiptID)

	return nil
}

func (f *fakeBackend) RecordAlert(_ context.Context, alertType, _, _, _ string) error {
	f.alerts = append(f.alerts, alertType)

	return nil
}

type fixedClock string

func (c fixedClock) NowUTC() string { return string(c) }

func sampleReceipt(t *testing.T, id, localPath string) receiptdao.Receipt {
	t.Helper()

	amt, err := decimal.Parse("9.99")
	require.NoError(t, err)

	return receiptdao.Receipt{
		ReceiptID:      id,
		CapturedAt:     time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC),
		Timezone:       "America/Toronto",
		Filename:       "2025-06-14_1.jpg",
		AmountTracked:  amt,
		CurrencyCode:   "CAD",
		Country:        "Canada",
		ChecksumSHA256: checksumOf(t, localPath),
		Source:         receiptdao.SourceCamera,
		LocalPath:      localPath,
	}
}

func checksumOf(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return checksum.SHA256Bytes(data)
}

func writeLocalImage(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	return path
}

func TestRunUploadsNewReceipt(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	localPath := writeLocalImage(t, localDir, "2025-06-14_1.jpg", []byte("image-bytes"))

	provider := storage.NewLocalEncryptedProvider(t.TempDir(), storage.StaticKeySource("pw"))
	backend := &fakeBackend{}
	folderSvc := folder.New(func() (string, error) { return t.TempDir(), nil })
	indexSvc := indexservice.New(backend, fixedClock("2025-06-14T10:05:00Z"), folderSvc)
	svc := New(backend, backend, indexSvc, nil)

	receipt := sampleReceipt(t, "r1", localPath)

	result := svc.Run(context.Background(), provider, []receiptdao.Receipt{receipt}, folder.Canada, nil, nil)

	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{"r1"}, backend.synced)
}

func TestRunSkipsReceiptAlreadyInRemoteIndexByID(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	localPath := writeLocalImage(t, localDir, "2025-06-14_1.jpg", []byte("image-bytes"))

	provider := storage.NewLocalEncryptedProvider(t.TempDir(), storage.StaticKeySource("pw"))
	backend := &fakeBackend{}
	folderSvc := folder.New(func() (string, error) { return t.TempDir(), nil })
	indexSvc := indexservice.New(backend, fixedClock("2025-06-14T10:05:00Z"), folderSvc)
	svc := New(backend, backend, indexSvc, nil)

	receipt := sampleReceipt(t, "r1", localPath)

	ctx := context.Background()

	_, err := svc.indexSvc.CommitReceipt(ctx, provider, receipt, []byte("image-bytes"), folder.Canada, "2025-06-14", nil)
	require.NoError(t, err)

	backend.synced = nil

	result := svc.Run(ctx, provider, []receiptdao.Receipt{receipt}, folder.Canada, nil, nil)

	assert.Equal(t, 1, result.SkippedDuplicate)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, []string{"r1"}, backend.synced)
}

func TestRunRaisesAlertOnChecksumMismatch(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	localPath := writeLocalImage(t, localDir, "2025-06-14_1.jpg", []byte("image-bytes"))

	provider := storage.NewLocalEncryptedProvider(t.TempDir(), storage.StaticKeySource("pw"))
	backend := &fakeBackend{}
	folderSvc := folder.New(func() (string, error) { return t.TempDir(), nil })
	indexSvc := indexservice.New(backend, fixedClock("2025-06-14T10:05:00Z"), folderSvc)
	svc := New(backend, backend, indexSvc, nil)

	receipt := sampleReceipt(t, "r1", localPath)
	receipt.ChecksumSHA256 = "deadbeef"

	result := svc.Run(context.Background(), provider, []receiptdao.Receipt{receipt}, folder.Canada, nil, nil)

	assert.Equal(t, 1, result.Failed)
	require.Len(t, backend.alerts, 1)
	assert.Equal(t, "checksum_mismatch", backend.alerts[0])
}

func TestRunReportsProgress(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()

	provider := storage.NewLocalEncryptedProvider(t.TempDir(), storage.StaticKeySource("pw"))
	backend := &fakeBackend{}
	folderSvc := folder.New(func() (string, error) { return t.TempDir(), nil })
	indexSvc := indexservice.New(backend, fixedClock("2025-06-14T10:05:00Z"), folderSvc)
	svc := New(backend, backend, indexSvc, nil)

	r1path := writeLocalImage(t, localDir, "2025-06-14_1.jpg", []byte("a"))
	r2path := writeLocalImage(t, localDir, "2025-06-14_2.jpg", []byte("b"))

	r1 := sampleReceipt(t, "r1", r1path)
	r2 := sampleReceipt(t, "r2", r2path)
	r2.Filename = "2025-06-14_2.jpg"

	var calls []int

	progress := progressFunc(func(current, total, failed int, name string, done bool) {
		calls = append(calls, current)
	})

	result := svc.Run(context.Background(), provider, []receiptdao.Receipt{r1, r2}, folder.Canada, nil, progress)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, []int{1, 2}, calls)
}

type progressFunc func(current, total, failed int, name string, done bool)

func (f progressFunc) OnProgress(current, total, failed int, name string, done bool) {
	f(current, total, failed, name, done)
}
