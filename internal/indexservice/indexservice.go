// Package indexservice implements the two-step commit that lands a
// receipt on a storage provider: first the image file, then the merged
// day index that references it. The two steps are never combined into
// one transaction — a provider offers no such primitive — so Step 2
// failure must leave the receipt in a recoverable, re-driveable state
// rather than a half-committed one.
package indexservice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kira-app/kira/internal/folder"
	"github.com/kira-app/kira/internal/receiptdao"
	"github.com/kira-app/kira/internal/receiptindex"
	"github.com/kira-app/kira/internal/storage"
)

const indexFileName = "index.json"

// Outcome reports which of the two commit steps completed.
type Outcome struct {
	ImageOK bool
	IndexOK bool
}

// ReceiptIndexedCallback is the subset of receiptdao.Store this service
// needs to reconcile sync_state after a commit. Declared here, at the
// consumer, rather than imported as a concrete *receiptdao.Store so a test
// double can exercise Step 2 failure without a database.
type ReceiptIndexedCallback interface {
	MarkUploadedUnindexed(ctx context.Context, receiptID, remotePath string) error
	MarkSynced(ctx context.Context, receiptID, remotePath string) error
}

// Clock supplies the current time as an RFC3339 UTC string, stamped onto
// index documents. Declared as an interface so tests can pin it.
type Clock interface {
	NowUTC() string
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// folderResolver is the subset of *folder.Service Step 2 needs to find the
// local mirror directory alongside the remote one. Declared here, at the
// consumer, so a test double can exercise the merge without touching disk.
type folderResolver interface {
	Resolve(date string, country folder.Country, workspaceID *string) (remoteRelPath, localAbsPath string, err error)
}

// Service commits receipts to a storage provider using the two-step
// protocol, serializing Step 2 per (country, workspace, date) so two
// receipts captured on the same day never race on the same index.json.
type Service struct {
	callback  ReceiptIndexedCallback
	clock     Clock
	folderSvc folderResolver

	dayLocks sync.Map // key: day lock key -> *sync.Mutex
}

// New builds a Service. callback receives the sync_state transitions as
// each commit step completes. folderSvc resolves the local mirror directory
// Step 2 reads and writes alongside the remote upload.
func New(callback ReceiptIndexedCallback, clock Clock, folderSvc folderResolver) *Service {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Service{callback: callback, clock: clock, folderSvc: folderSvc}
}

func (s *Service) lockFor(country folder.Country, workspaceID *string, date string) *sync.Mutex {
	ws := ""
	if workspaceID != nil {
		ws = *workspaceID
	}

	key := string(country) + "|" + ws + "|" + date

	actual, _ := s.dayLocks.LoadOrStore(key, &sync.Mutex{})

	return actual.(*sync.Mutex)
}

// CommitReceipt runs both commit steps back to back: UploadImageStep then
// CommitIndexStep. Callers driven by the durable sync queue instead invoke
// the two steps independently (internal/syncengine.Dispatcher), since a
// crash between them must resume at Step 2 without re-uploading.
func (s *Service) CommitReceipt(
	ctx context.Context,
	provider storage.Provider,
	receipt receiptdao.Receipt,
	imageBytes []byte,
	country folder.Country,
	date string,
	workspaceID *string,
) (Outcome, error) {
	if err := s.UploadImageStep(ctx, provider, receipt, imageBytes, country, date, workspaceID); err != nil {
		return Outcome{ImageOK: false, IndexOK: false}, err
	}

	if err := s.CommitIndexStep(ctx, provider, receipt, country, date, workspaceID); err != nil {
		return Outcome{ImageOK: true, IndexOK: false}, err
	}

	return Outcome{ImageOK: true, IndexOK: true}, nil
}

// UploadImageStep performs Step 1 of the commit: a no-overwrite upload of
// the receipt image, followed by marking the receipt uploaded_unindexed.
// This is the operation internal/syncqueue's OperationUploadImage entries
// dispatch.
func (s *Service) UploadImageStep(
	ctx context.Context,
	provider storage.Provider,
	receipt receiptdao.Receipt,
	imageBytes []byte,
	country folder.Country,
	date string,
	workspaceID *string,
) error {
	remoteDir, err := folder.RemotePath(date, country, workspaceID)
	if err != nil {
		return fmt.Errorf("indexservice: resolving remote path: %w", err)
	}

	if err := s.uploadImage(ctx, provider, remoteDir, receipt, imageBytes); err != nil {
		return err
	}

	if err := s.callback.MarkUploadedUnindexed(ctx, receipt.ReceiptID, remoteDir); err != nil {
		return fmt.Errorf("indexservice: recording image upload: %w", err)
	}

	return nil
}

// CommitIndexStep performs Step 2 of the commit: read-merge-write the day
// index, then marks the receipt synced. This is the operation
// internal/syncqueue's OperationUploadIndex entries dispatch, and is safe
// to retry independently of Step 1 (it is idempotent per receipt_id).
func (s *Service) CommitIndexStep(
	ctx context.Context,
	provider storage.Provider,
	receipt receiptdao.Receipt,
	country folder.Country,
	date string,
	workspaceID *string,
) error {
	remoteDir, err := s.commitIndex(ctx, provider, country, workspaceID, date, receipt)
	if err != nil {
		return err
	}

	if err := s.callback.MarkSynced(ctx, receipt.ReceiptID, remoteDir); err != nil {
		return fmt.Errorf("indexservice: recording sync completion: %w", err)
	}

	return nil
}

// uploadImage performs Step 1: a no-overwrite upload of the receipt image.
func (s *Service) uploadImage(
	ctx context.Context,
	provider storage.Provider,
	remoteDir string,
	receipt receiptdao.Receipt,
	imageBytes []byte,
) error {
	exists, err := provider.FileExists(ctx, remoteDir, receipt.Filename)
	if err != nil {
		return fmt.Errorf("indexservice: checking existing image %s/%s: %w", remoteDir, receipt.Filename, err)
	}

	if exists {
		return nil
	}

	if err := provider.UploadFile(ctx, remoteDir, receipt.Filename, imageBytes); err != nil {
		return fmt.Errorf("indexservice: uploading image %s/%s: %w", remoteDir, receipt.Filename, err)
	}

	return nil
}

// commitIndex performs Step 2 under an exclusive lock for
// (country, workspace, date): read the remote day index and the local
// mirror's day index, merge them, then write the merged document back to
// both the local mirror directory and the remote provider. The local
// mirror is what internal/auditor walks to find orphaned or missing
// receipts, so it must end up holding the same index the remote side does.
func (s *Service) commitIndex(
	ctx context.Context,
	provider storage.Provider,
	country folder.Country,
	workspaceID *string,
	date string,
	receipt receiptdao.Receipt,
) (remoteDir string, err error) {
	lock := s.lockFor(country, workspaceID, date)
	lock.Lock()
	defer lock.Unlock()

	remoteDir, localDir, err := s.folderSvc.Resolve(date, country, workspaceID)
	if err != nil {
		return "", fmt.Errorf("indexservice: resolving mirror path: %w", err)
	}

	indexPath := remoteDir + "/" + indexFileName
	localIndexPath := filepath.Join(localDir, indexFileName)

	remoteIdx, err := s.readRemoteDayIndex(ctx, provider, indexPath)
	if err != nil {
		return "", err
	}

	localIdx, err := s.readLocalDayIndex(localIndexPath)
	if err != nil {
		return "", err
	}

	base := receiptindex.MergeDay(localIdx, remoteIdx)

	entry := entryFromReceipt(receipt)

	merged := receiptindex.AddReceipt(base, entry, s.clock.NowUTC())

	encoded, err := receiptindex.MarshalDayIndex(merged)
	if err != nil {
		return "", fmt.Errorf("indexservice: encoding index %s: %w", indexPath, err)
	}

	const filePerm = 0o600
	if err := os.WriteFile(localIndexPath, encoded, filePerm); err != nil {
		return "", fmt.Errorf("indexservice: writing local index %s: %w", localIndexPath, err)
	}

	if err := provider.WriteTextFile(ctx, indexPath, string(encoded)); err != nil {
		return "", fmt.Errorf("indexservice: writing index %s: %w", indexPath, err)
	}

	return remoteDir, nil
}

// readRemoteDayIndex loads and decodes the remote day index at path. A
// missing or corrupt document is treated as "no index yet" (spec's
// CorruptIndex handling), never a hard failure — Step 2 simply starts from
// whatever the local mirror has, or empty.
func (s *Service) readRemoteDayIndex(ctx context.Context, provider storage.Provider, indexPath string) (*receiptindex.DayIndex, error) {
	content, ok, err := provider.ReadTextFile(ctx, indexPath)
	if err != nil {
		return nil, fmt.Errorf("indexservice: reading index %s: %w", indexPath, err)
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

// readLocalDayIndex loads and decodes the local mirror's day index. Same
// tolerant treatment of missing or corrupt files as the remote side: a
// fresh local mirror has no index.json yet, and that is not an error.
func (s *Service) readLocalDayIndex(localIndexPath string) (*receiptindex.DayIndex, error) {
	content, err := os.ReadFile(localIndexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("indexservice: reading local index %s: %w", localIndexPath, err)
	}

	idx, err := receiptindex.UnmarshalDayIndex(content)
	if err != nil {
		return nil, nil
	}

	return idx, nil
}

func entryFromReceipt(r receiptdao.Receipt) receiptindex.Entry {
	var supersedes *string
	if r.SupersedesFilename != "" {
		v := r.SupersedesFilename
		supersedes = &v
	}

	return receiptindex.Entry{
		ReceiptID:          r.ReceiptID,
		Filename:           r.Filename,
		AmountTracked:      r.AmountTracked,
		CurrencyCode:       r.CurrencyCode,
		Category:           r.Category,
		ChecksumSHA256:     r.ChecksumSHA256,
		CapturedAt:         r.CapturedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          r.UpdatedAt.UTC().Format(time.RFC3339),
		Conflict:           r.Conflict,
		SupersedesFilename: supersedes,
	}
}
