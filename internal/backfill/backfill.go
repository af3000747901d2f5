// Package backfill implements the one-time bulk upload that runs the
// moment a cloud provider is linked: every receipt already marked
// local-only is walked through dedup, verification, upload, and commit,
// never overwriting or deleting anything already on the provider.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kira-app/kira/internal/checksum"
	"github.com/kira-app/kira/internal/filename"
	"github.com/kira-app/kira/internal/folder"
	"github.com/kira-app/kira/internal/indexservice"
	"github.com/kira-app/kira/internal/receiptdao"
	"github.com/kira-app/kira/internal/receiptindex"
	"github.com/kira-app/kira/internal/storage"
)

// dedupWindow is the tolerance for matching an existing index entry by
// checksum+capture-time when its receipt_id differs from the receipt's.
const dedupWindow = 60 * time.Second

// ReceiptStore is the subset of receiptdao.Store this service needs.
// Declared at the consumer so a fake can drive tests without a database.
type ReceiptStore interface {
	MarkSynced(ctx context.Context, receiptID, remotePath string) error
}

// AlertRecorder receives a critical alert when local checksum verification
// fails during backfill, matching the auditor's checksum_mismatch alert
// shape without importing the auditor package directly.
type AlertRecorder interface {
	RecordAlert(ctx context.Context, alertType, severity, filePath, details string) error
}

// ProgressCallback receives per-item progress exactly as spec.md §4.8
// describes: current/total counts, a running failure count, the filename
// in flight, and whether the run has finished.
type ProgressCallback interface {
	OnProgress(current, total, failedCount int, currentFilename string, isComplete bool)
}

// ItemError records one receipt's terminal failure in a Result.
type ItemError struct {
	ReceiptID string
	Err       error
}

// Result summarizes one backfill run.
type Result struct {
	Total            int
	Succeeded        int
	SkippedDuplicate int
	Failed           int
	Errors           []ItemError
}

// Service runs the backfill pipeline against one storage provider.
type Service struct {
	store    ReceiptStore
	alerts   AlertRecorder
	indexSvc *indexservice.Service
	logger   *slog.Logger
}

// New builds a Service. alerts may be nil if checksum-mismatch alerting is
// not wired (the pipeline still aborts the offending receipt).
func New(store ReceiptStore, alerts AlertRecorder, indexSvc *indexservice.Service, logger *slog.Logger) *Service {
	return &Service{store: store, alerts: alerts, indexSvc: indexSvc, logger: logger}
}

// Run walks receipts through the six-step backfill pipeline against
// provider, reporting progress through progress (may be nil) and
// respecting ctx cancellation between items.
func (s *Service) Run(
	ctx context.Context,
	provider storage.Provider,
	receipts []receiptdao.Receipt,
	country folder.Country,
	workspaceID *string,
	progress ProgressCallback,
) Result {
	result := Result{Total: len(receipts)}
	touchedDates := map[string]bool{}

	for i, receipt := range receipts {
		if ctx.Err() != nil {
			break
		}

		date := receipt.CapturedAt.UTC().Format("2006-01-02")
		touchedDates[date] = true

		outcome := s.processOne(ctx, provider, receipt, country, workspaceID, date)

		switch outcome.kind {
		case outcomeSynced:
			result.Succeeded++
		case outcomeDuplicate:
			result.SkippedDuplicate++
		case outcomeFailed:
			result.Failed++
			result.Errors = append(result.Errors, ItemError{ReceiptID: receipt.ReceiptID, Err: outcome.err})

			if s.logger != nil {
				s.logger.Warn("backfill: item failed",
					slog.String("receipt_id", receipt.ReceiptID),
					slog.String("error", outcome.err.Error()))
			}
		}

		if progress != nil {
			progress.OnProgress(i+1, len(receipts), result.Failed, receipt.Filename, i+1 == len(receipts))
		}
	}

	if s.logger != nil {
		s.logger.Info("backfill: run complete",
			slog.Int("total", result.Total),
			slog.Int("succeeded", result.Succeeded),
			slog.Int("skipped_duplicate", result.SkippedDuplicate),
			slog.Int("failed", result.Failed))
	}

	s.verifyIntegrity(ctx, provider, touchedDates, country, workspaceID)

	return result
}

type outcomeKind int

const (
	outcomeFailed outcomeKind = iota
	outcomeSynced
	outcomeDuplicate
)

type itemOutcome struct {
	kind outcomeKind
	err  error
}

func (s *Service) processOne(
	ctx context.Context,
	provider storage.Provider,
	receipt receiptdao.Receipt,
	country folder.Country,
	workspaceID *string,
	date string,
) itemOutcome {
	remoteDir, err := folder.RemotePath(date, country, workspaceID)
	if err != nil {
		return itemOutcome{kind: outcomeFailed, err: fmt.Errorf("resolving remote path: %w", err)}
	}

	dayIndex, err := s.readDayIndex(ctx, provider, remoteDir)
	if err != nil {
		return itemOutcome{kind: outcomeFailed, err: fmt.Errorf("reading remote index: %w", err)}
	}

	if dup := findDuplicate(dayIndex, receipt); dup {
		if err := s.store.MarkSynced(ctx, receipt.ReceiptID, remoteDir); err != nil {
			return itemOutcome{kind: outcomeFailed, err: fmt.Errorf("marking duplicate synced: %w", err)}
		}

		return itemOutcome{kind: outcomeDuplicate}
	}

	if receipt.LocalPath != "" {
		actual, err := checksum.SHA256File(receipt.LocalPath)
		if err != nil {
			return itemOutcome{kind: outcomeFailed, err: fmt.Errorf("hashing local file: %w", err)}
		}

		if actual != receipt.ChecksumSHA256 {
			s.raiseChecksumMismatch(ctx, receipt.LocalPath, receipt.ReceiptID)

			return itemOutcome{kind: outcomeFailed, err: errors.New("local checksum mismatch, possible corruption")}
		}
	}

	receipt, err = s.resolveFilenameCollision(ctx, provider, receipt, remoteDir)
	if err != nil {
		return itemOutcome{kind: outcomeFailed, err: err}
	}

	imageBytes, err := s.loadImage(receipt)
	if err != nil {
		return itemOutcome{kind: outcomeFailed, err: fmt.Errorf("reading local image: %w", err)}
	}

	if s.logger != nil {
		s.logger.Debug("backfill: uploading",
			slog.String("receipt_id", receipt.ReceiptID),
			slog.String("size", humanize.Bytes(uint64(len(imageBytes)))))
	}

	if _, err := s.indexSvc.CommitReceipt(ctx, provider, receipt, imageBytes, country, date, workspaceID); err != nil {
		return itemOutcome{kind: outcomeFailed, err: fmt.Errorf("committing receipt: %w", err)}
	}

	return itemOutcome{kind: outcomeSynced}
}

func (s *Service) loadImage(receipt receiptdao.Receipt) ([]byte, error) {
	if receipt.LocalPath == "" {
		return nil, errors.New("receipt has no local_path to read")
	}

	return os.ReadFile(receipt.LocalPath)
}

// findDuplicate implements spec.md §4.8 step 2: a receipt_id match, or a
// checksum match within dedupWindow of captured_at, marks the receipt as
// already present remotely.
func findDuplicate(dayIndex *receiptindex.DayIndex, receipt receiptdao.Receipt) bool {
	if dayIndex == nil {
		return false
	}

	for _, entry := range dayIndex.Receipts {
		if entry.ReceiptID == receipt.ReceiptID {
			return true
		}

		if entry.ChecksumSHA256 != receipt.ChecksumSHA256 {
			continue
		}

		entryTime, err := time.Parse(time.RFC3339, entry.CapturedAt)
		if err != nil {
			continue
		}

		if absDuration(entryTime.Sub(receipt.CapturedAt)) <= dedupWindow {
			return true
		}
	}

	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}

// resolveFilenameCollision implements spec.md §4.8 step 4: if the
// receipt's filename already names a different remote file for that day,
// allocate a fresh one and record the provenance link.
func (s *Service) resolveFilenameCollision(
	ctx context.Context,
	provider storage.Provider,
	receipt receiptdao.Receipt,
	remoteDir string,
) (receiptdao.Receipt, error) {
	exists, err := provider.FileExists(ctx, remoteDir, receipt.Filename)
	if err != nil {
		return receipt, fmt.Errorf("checking filename collision: %w", err)
	}

	if !exists {
		return receipt, nil
	}

	remoteNames, err := provider.ListFiles(ctx, remoteDir)
	if err != nil {
		return receipt, fmt.Errorf("listing remote files: %w", err)
	}

	localNames := localSiblingNames(filepath.Dir(receipt.LocalPath))

	date := receipt.CapturedAt.UTC().Format("2006-01-02")

	newName, err := filename.Allocate(date, localNames, remoteNames)
	if err != nil {
		return receipt, fmt.Errorf("allocating collision-free filename: %w", err)
	}

	oldName := receipt.Filename
	receipt.SupersedesFilename = oldName
	receipt.Filename = newName

	return receipt, nil
}

func localSiblingNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	return names
}

func (s *Service) readDayIndex(ctx context.Context, provider storage.Provider, remoteDir string) (*receiptindex.DayIndex, error) {
	content, ok, err := provider.ReadTextFile(ctx, remoteDir+"/index.json")
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	idx, err := receiptindex.UnmarshalDayIndex([]byte(content))
	if err != nil {
		return nil, nil
	}

	return idx, nil
}

func (s *Service) raiseChecksumMismatch(ctx context.Context, path, receiptID string) {
	if s.alerts == nil {
		return
	}

	details := fmt.Sprintf("backfill checksum mismatch for receipt %s", receiptID)
	if err := s.alerts.RecordAlert(ctx, "checksum_mismatch", "critical", path, details); err != nil && s.logger != nil {
		s.logger.Error("backfill: recording checksum mismatch alert failed", slog.String("error", err.Error()))
	}
}

// verifyIntegrity implements the post-pass integrity check: for every date
// touched, every index entry's filename must exist remotely. Failures are
// logged as warnings only, never fatal, per spec.md §4.8.
func (s *Service) verifyIntegrity(
	ctx context.Context,
	provider storage.Provider,
	touchedDates map[string]bool,
	country folder.Country,
	workspaceID *string,
) {
	if s.logger == nil {
		return
	}

	for date := range touchedDates {
		remoteDir, err := folder.RemotePath(date, country, workspaceID)
		if err != nil {
			continue
		}

		idx, err := s.readDayIndex(ctx, provider, remoteDir)
		if err != nil || idx == nil {
			continue
		}

		for _, entry := range idx.Receipts {
			exists, err := provider.FileExists(ctx, remoteDir, entry.Filename)
			if err != nil {
				continue
			}

			if !exists {
				s.logger.Warn("backfill: index entry references missing remote file",
					slog.String("date", date),
					slog.String("receipt_id", entry.ReceiptID),
					slog.String("filename", entry.Filename))
			}
		}
	}
}
