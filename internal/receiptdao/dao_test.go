package receiptdao

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kira-app/kira/pkg/decimal"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct{ t *testing.T }

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "kira.db")

	store, err := Open(context.Background(), dbPath, testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func sampleReceipt(t *testing.T, id string) Receipt {
	t.Helper()

	amt, err := decimal.Parse("12.34")
	require.NoError(t, err)

	return Receipt{
		ReceiptID:      id,
		CapturedAt:     time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC),
		Timezone:       "America/Toronto",
		Filename:       "2025-06-14_1.jpg",
		AmountTracked:  amt,
		CurrencyCode:   "CAD",
		Country:        "Canada",
		ChecksumSHA256: "abc123",
		Source:         SourceCamera,
		LocalPath:      "/tmp/receipts/2025-06-14_1.jpg",
	}
}

func TestInsertAndGetByID(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	r := sampleReceipt(t, "r1")
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, r.AmountTracked, got.AmountTracked)
	require.Equal(t, SyncStateLocalOnly, got.SyncState)
	require.Equal(t, r.ChecksumSHA256, got.ChecksumSHA256)
}

func TestGetByIDNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	_, err := store.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetUnsyncedReceiptsExcludesSynced(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	r1 := sampleReceipt(t, "r1")
	r2 := sampleReceipt(t, "r2")
	r2.ChecksumSHA256 = "def456"
	r2.CapturedAt = r1.CapturedAt.Add(time.Hour)

	require.NoError(t, store.Insert(ctx, r1))
	require.NoError(t, store.Insert(ctx, r2))
	require.NoError(t, store.MarkSynced(ctx, "r1", "Receipts/Canada/2025/2025-06/2025-06-14/2025-06-14_1.jpg"))

	unsynced, err := store.GetUnsyncedReceipts(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	require.Equal(t, "r2", unsynced[0].ReceiptID)
}

func TestMarkUploadedUnindexedThenSynced(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	r := sampleReceipt(t, "r1")
	require.NoError(t, store.Insert(ctx, r))
	require.NoError(t, store.MarkUploadedUnindexed(ctx, "r1", "remote/path.jpg"))

	got, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, SyncStateUploadedUnindexed, got.SyncState)
	require.Equal(t, "remote/path.jpg", got.RemotePath)

	require.NoError(t, store.MarkIndexed(ctx, "r1"))

	got, err = store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, SyncStateSynced, got.SyncState)
}

func TestFindByChecksum(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	r := sampleReceipt(t, "r1")
	require.NoError(t, store.Insert(ctx, r))

	found, ok, err := store.FindByChecksum(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "r1", found.ReceiptID)

	_, ok, err = store.FindByChecksum(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSoftDeleteExcludesFromLocalList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	r := sampleReceipt(t, "r1")
	require.NoError(t, store.Insert(ctx, r))
	require.NoError(t, store.SoftDelete(ctx, "r1"))

	local, err := store.GetAllLocal(ctx)
	require.NoError(t, err)
	require.Empty(t, local)
}

func TestInsertRejectsInvalidCurrency(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	r := sampleReceipt(t, "r1")
	r.CurrencyCode = "NOTREAL"

	err := store.Insert(context.Background(), r)
	require.Error(t, err)
}

func TestSetConflict(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	r := sampleReceipt(t, "r1")
	require.NoError(t, store.Insert(ctx, r))
	require.NoError(t, store.SetConflict(ctx, "r1", true))

	got, err := store.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, got.Conflict)
}

func TestNewReceiptIDIsUniqueAndNonEmpty(t *testing.T) {
	t.Parallel()

	a := NewReceiptID()
	b := NewReceiptID()

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
