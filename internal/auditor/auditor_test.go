package auditor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kira-app/kira/internal/receiptdao"
	"github.com/kira-app/kira/internal/receiptindex"
	"github.com/kira-app/kira/pkg/decimal"
)

type fixedClock time.Time

func (c fixedClock) NowUTC() time.Time { return time.Time(c) }

func newTestService(t *testing.T, root string) *Service {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "kira.db")
	store, err := receiptdao.Open(context.Background(), dbPath, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := fixedClock(time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC))

	return New(store.DB(), root, clock, slog.New(slog.DiscardHandler))
}

func dayDir(t *testing.T, root, country, date string) string {
	t.Helper()

	year := date[:4]
	yearMonth := date[:7]
	dir := filepath.Join(root, "Receipts", country, year, yearMonth, date)
	require.NoError(t, os.MkdirAll(dir, 0o700))

	return dir
}

func writeIndex(t *testing.T, dayPath string, idx *receiptindex.DayIndex) {
	t.Helper()

	data, err := receiptindex.MarshalDayIndex(idx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dayPath, "index.json"), data, 0o600))
}

func amt(t *testing.T, s string) decimal.Money {
	t.Helper()

	m, err := decimal.Parse(s)
	require.NoError(t, err)

	return m
}

func TestRunQuickFlagsUnexpectedFileOnly(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	day := dayDir(t, root, "Canada", "2025-06-14")

	require.NoError(t, os.WriteFile(filepath.Join(day, "2025-06-14_1.jpg"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(day, "2025-06-14_2.png"), []byte("b"), 0o600))

	writeIndex(t, day, &receiptindex.DayIndex{
		Date:          "2025-06-14",
		SchemaVersion: 1,
		LastUpdated:   "2025-06-14T10:00:00Z",
		Receipts: []receiptindex.Entry{
			{ReceiptID: "r1", Filename: "2025-06-14_1.jpg", AmountTracked: amt(t, "9.99"), CurrencyCode: "CAD", ChecksumSHA256: "deadbeef", CapturedAt: "2025-06-14T10:00:00Z", UpdatedAt: "2025-06-14T10:00:00Z"},
		},
	})

	svc := newTestService(t, root)

	report, err := svc.RunQuick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.DaysScanned)
	require.Len(t, report.AlertsRaised, 1)
	assert.Equal(t, AlertUnexpectedFile, report.AlertsRaised[0].AlertType)
}

func TestRunQuickFlagsOrphanEntry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	day := dayDir(t, root, "Canada", "2025-06-14")

	writeIndex(t, day, &receiptindex.DayIndex{
		Date:          "2025-06-14",
		SchemaVersion: 1,
		LastUpdated:   "2025-06-14T10:00:00Z",
		Receipts: []receiptindex.Entry{
			{ReceiptID: "r1", Filename: "2025-06-14_1.jpg", AmountTracked: amt(t, "9.99"), CurrencyCode: "CAD", ChecksumSHA256: "deadbeef", CapturedAt: "2025-06-14T10:00:00Z", UpdatedAt: "2025-06-14T10:00:00Z"},
		},
	})

	svc := newTestService(t, root)

	report, err := svc.RunQuick(context.Background())
	require.NoError(t, err)

	require.Len(t, report.AlertsRaised, 1)
	assert.Equal(t, AlertOrphanEntry, report.AlertsRaised[0].AlertType)
}

func TestRunQuickFlagsInvalidFilenameAndFolderMismatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	day := dayDir(t, root, "Canada", "2025-06-14")

	require.NoError(t, os.WriteFile(filepath.Join(day, "not-a-receipt.jpg"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(day, "2025-06-15_1.jpg"), []byte("b"), 0o600))

	svc := newTestService(t, root)

	report, err := svc.RunQuick(context.Background())
	require.NoError(t, err)

	var types []AlertType
	for _, a := range report.AlertsRaised {
		types = append(types, a.AlertType)
	}

	assert.Contains(t, types, AlertInvalidFilename)
	assert.Contains(t, types, AlertFolderMismatch)
	assert.Contains(t, types, AlertOrphanFile)
}

func TestRunFullDetectsChecksumMismatch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	day := dayDir(t, root, "Canada", "2025-06-14")

	require.NoError(t, os.WriteFile(filepath.Join(day, "2025-06-14_1.jpg"), []byte("actual-bytes"), 0o600))

	writeIndex(t, day, &receiptindex.DayIndex{
		Date:          "2025-06-14",
		SchemaVersion: 1,
		LastUpdated:   "2025-06-14T10:00:00Z",
		Receipts: []receiptindex.Entry{
			{ReceiptID: "r1", Filename: "2025-06-14_1.jpg", AmountTracked: amt(t, "9.99"), CurrencyCode: "CAD", ChecksumSHA256: "wrong-checksum", CapturedAt: "2025-06-14T10:00:00Z", UpdatedAt: "2025-06-14T10:00:00Z"},
		},
	})

	svc := newTestService(t, root)

	quick, err := svc.RunQuick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, quick.AlertsRaised, "quick mode must not recompute checksums")

	full, err := svc.RunFull(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, full.AlertsRaised, 1)
	assert.Equal(t, AlertChecksumMismatch, full.AlertsRaised[0].AlertType)
	assert.Equal(t, SeverityCritical, full.AlertsRaised[0].Severity)
}

func TestDuplicateAlertsAreNotReinserted(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	day := dayDir(t, root, "Canada", "2025-06-14")
	require.NoError(t, os.WriteFile(filepath.Join(day, "2025-06-14_2.png"), []byte("b"), 0o600))

	svc := newTestService(t, root)

	_, err := svc.RunQuick(context.Background())
	require.NoError(t, err)

	second, err := svc.RunQuick(context.Background())
	require.NoError(t, err)

	assert.Empty(t, second.AlertsRaised, "a still-unresolved alert for the same file+type must not be reinserted")

	open, err := svc.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestQuarantineMovesFileAndResolvesAlert(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	day := dayDir(t, root, "Canada", "2025-06-14")
	require.NoError(t, os.WriteFile(filepath.Join(day, "2025-06-14_2.png"), []byte("b"), 0o600))

	svc := newTestService(t, root)

	ctx := context.Background()

	report, err := svc.RunQuick(ctx)
	require.NoError(t, err)
	require.Len(t, report.AlertsRaised, 1)

	alertID := report.AlertsRaised[0].ID

	require.NoError(t, svc.Quarantine(ctx, alertID))

	_, err = os.Stat(filepath.Join(day, "2025-06-14_2.png"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(filepath.Dir(day), "_Quarantine", "2025-06-14_2.png"))
	assert.NoError(t, err)

	open, err := svc.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1, "the original alert resolves, but the quarantine_action record itself stays open")
	assert.Equal(t, AlertQuarantineAction, open[0].AlertType)
}

func TestQuarantineUnknownAlertFails(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, t.TempDir())

	err := svc.Quarantine(context.Background(), 999)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestDismissResolvesWithoutTouchingFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	day := dayDir(t, root, "Canada", "2025-06-14")
	require.NoError(t, os.WriteFile(filepath.Join(day, "2025-06-14_2.png"), []byte("b"), 0o600))

	svc := newTestService(t, root)
	ctx := context.Background()

	report, err := svc.RunQuick(ctx)
	require.NoError(t, err)
	require.Len(t, report.AlertsRaised, 1)

	require.NoError(t, svc.Dismiss(ctx, report.AlertsRaised[0].ID))

	_, err = os.Stat(filepath.Join(day, "2025-06-14_2.png"))
	assert.NoError(t, err, "dismiss must never touch files")

	open, err := svc.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRecordAlertSatisfiesBackfillAlertRecorder(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, t.TempDir())

	err := svc.RecordAlert(context.Background(), "checksum_mismatch", "critical", "/some/path.jpg", "possible tampering")
	require.NoError(t, err)

	open, err := svc.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, AlertChecksumMismatch, open[0].AlertType)
}
