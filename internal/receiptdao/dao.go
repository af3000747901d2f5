package receiptdao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kira-app/kira/pkg/decimal"
)

// ErrNotFound is returned when a lookup by receipt_id matches no row.
var ErrNotFound = errors.New("receiptdao: receipt not found")

const receiptColumns = `receipt_id, captured_at, timezone, filename, amount_tracked_minor,
	currency_code, country, region, category, checksum_sha256, device_id,
	capture_session_id, supersedes_filename, conflict, created_at, updated_at,
	source, sync_state, remote_path, local_path, is_deleted`

// Insert writes a new Receipt row. localPath may be empty if the image was
// captured directly into provider storage (rare but allowed for imports).
func (s *Store) Insert(ctx context.Context, r Receipt) error {
	if err := r.Validate(); err != nil {
		return err
	}

	now := r.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if r.SyncState == "" {
		r.SyncState = SyncStateLocalOnly
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO receipts (`+receiptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReceiptID, r.CapturedAt.UTC().Format(time.RFC3339Nano), r.Timezone, r.Filename,
		int64(r.AmountTracked), r.CurrencyCode, r.Country, nullString(r.Region),
		nullString(r.Category), r.ChecksumSHA256, nullString(r.DeviceID),
		nullString(r.CaptureSessionID), nullString(r.SupersedesFilename), r.Conflict,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		string(r.Source), string(r.SyncState), nullString(r.RemotePath),
		nullString(r.LocalPath), r.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("receiptdao: inserting receipt %s: %w", r.ReceiptID, err)
	}

	return nil
}

// GetByID returns the receipt with the given ID, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, receiptID string) (Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE receipt_id = ?`, receiptID)

	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}

	if err != nil {
		return Receipt{}, fmt.Errorf("receiptdao: get receipt %s: %w", receiptID, err)
	}

	return r, nil
}

// GetUnsyncedReceipts returns every non-deleted receipt whose sync_state is
// not yet "synced", ordered by captured_at so the sync engine uploads in
// capture order.
func (s *Store) GetUnsyncedReceipts(ctx context.Context) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts
		 WHERE is_deleted = 0 AND sync_state != ?
		 ORDER BY captured_at ASC`, string(SyncStateSynced))
	if err != nil {
		return nil, fmt.Errorf("receiptdao: querying unsynced receipts: %w", err)
	}
	defer rows.Close()

	return scanReceipts(rows)
}

// GetAllLocal returns every non-deleted receipt that still has a local
// image file recorded (local_path is non-empty), used by the auditor and
// by status reporting.
func (s *Store) GetAllLocal(ctx context.Context) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts
		 WHERE is_deleted = 0 AND local_path IS NOT NULL AND local_path != ''
		 ORDER BY captured_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("receiptdao: querying local receipts: %w", err)
	}
	defer rows.Close()

	return scanReceipts(rows)
}

// FindByChecksum returns the receipt matching a checksum, if any, for
// backfill dedup (spec §10: receipt_id match OR checksum+time-window match).
func (s *Store) FindByChecksum(ctx context.Context, checksum string) (Receipt, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE checksum_sha256 = ? AND is_deleted = 0`,
		checksum)

	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, false, nil
	}

	if err != nil {
		return Receipt{}, false, fmt.Errorf("receiptdao: find by checksum: %w", err)
	}

	return r, true, nil
}

// MarkUploadedUnindexed records that a receipt's image has been durably
// uploaded but its index entry has not yet been committed (step one of the
// two-step commit, spec §4.5).
func (s *Store) MarkUploadedUnindexed(ctx context.Context, receiptID, remotePath string) error {
	return s.updateSyncState(ctx, receiptID, SyncStateUploadedUnindexed, remotePath)
}

// MarkSynced records that both the image and its index entry have been
// durably committed.
func (s *Store) MarkSynced(ctx context.Context, receiptID, remotePath string) error {
	return s.updateSyncState(ctx, receiptID, SyncStateSynced, remotePath)
}

// MarkFailed records that an upload attempt failed permanently (non-
// retryable per the storage error taxonomy) and needs operator attention.
func (s *Store) MarkFailed(ctx context.Context, receiptID string) error {
	return s.updateSyncState(ctx, receiptID, SyncStateFailed, "")
}

// MarkIndexed sets sync_state to synced like MarkSynced, but leaves
// remote_path unchanged (named separately because the caller's perspective
// is "the index now contains this receipt", not "this receipt's sync_state
// changed"). The index service itself calls MarkSynced.
func (s *Store) MarkIndexed(ctx context.Context, receiptID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET sync_state = ?, updated_at = ? WHERE receipt_id = ?`,
		string(SyncStateSynced), time.Now().UTC().Format(time.RFC3339Nano), receiptID)
	if err != nil {
		return fmt.Errorf("receiptdao: marking %s indexed: %w", receiptID, err)
	}

	return nil
}

func (s *Store) updateSyncState(ctx context.Context, receiptID string, state SyncState, remotePath string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var err error
	if remotePath != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE receipts SET sync_state = ?, remote_path = ?, updated_at = ? WHERE receipt_id = ?`,
			string(state), remotePath, now, receiptID)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE receipts SET sync_state = ?, updated_at = ? WHERE receipt_id = ?`,
			string(state), now, receiptID)
	}

	if err != nil {
		return fmt.Errorf("receiptdao: updating sync_state for %s: %w", receiptID, err)
	}

	return nil
}

// SetConflict flags a receipt as involved in an index merge conflict
// (spec §4.3), surfaced later through status reporting.
func (s *Store) SetConflict(ctx context.Context, receiptID string, conflict bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET conflict = ?, updated_at = ? WHERE receipt_id = ?`,
		conflict, time.Now().UTC().Format(time.RFC3339Nano), receiptID)
	if err != nil {
		return fmt.Errorf("receiptdao: setting conflict for %s: %w", receiptID, err)
	}

	return nil
}

// SoftDelete marks a receipt as deleted without removing its row, so audit
// trails and dedup checks still see it.
func (s *Store) SoftDelete(ctx context.Context, receiptID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE receipts SET is_deleted = 1, updated_at = ? WHERE receipt_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), receiptID)
	if err != nil {
		return fmt.Errorf("receiptdao: soft-deleting %s: %w", receiptID, err)
	}

	return nil
}

// ReceiptCountAndSize summarizes local storage usage for status reporting.
type ReceiptCountAndSize struct {
	Count     int
	TotalSize int64
}

// GetReceiptCountAndSize returns the number of non-deleted receipts with a
// local image and the sum of their on-disk sizes (spec §11 status report).
func (s *Store) GetReceiptCountAndSize(ctx context.Context, sizeFn func(localPath string) (int64, error)) (ReceiptCountAndSize, error) {
	receipts, err := s.GetAllLocal(ctx)
	if err != nil {
		return ReceiptCountAndSize{}, err
	}

	out := ReceiptCountAndSize{Count: len(receipts)}

	for _, r := range receipts {
		size, sizeErr := sizeFn(r.LocalPath)
		if sizeErr != nil {
			continue
		}

		out.TotalSize += size
	}

	return out, nil
}

func scanReceipts(rows *sql.Rows) ([]Receipt, error) {
	var out []Receipt

	for rows.Next() {
		r, err := scanReceiptRow(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("receiptdao: iterating receipt rows: %w", err)
	}

	return out, nil
}

// scannable abstracts over *sql.Row and *sql.Rows for scanReceipt.
type scannable interface {
	Scan(dest ...any) error
}

func scanReceipt(row scannable) (Receipt, error) {
	return scanReceiptRow(row)
}

func scanReceiptRow(row scannable) (Receipt, error) {
	var (
		r                  Receipt
		capturedAt         string
		createdAt          string
		updatedAt          string
		amountMinor        int64
		region             sql.NullString
		category           sql.NullString
		deviceID           sql.NullString
		captureSessionID   sql.NullString
		supersedesFilename sql.NullString
		remotePath         sql.NullString
		localPath          sql.NullString
		source             string
		syncState          string
	)

	err := row.Scan(
		&r.ReceiptID, &capturedAt, &r.Timezone, &r.Filename, &amountMinor,
		&r.CurrencyCode, &r.Country, &region, &category, &r.ChecksumSHA256,
		&deviceID, &captureSessionID, &supersedesFilename, &r.Conflict,
		&createdAt, &updatedAt, &source, &syncState, &remotePath, &localPath,
		&r.IsDeleted,
	)
	if err != nil {
		return Receipt{}, err
	}

	r.AmountTracked = decimal.Money(amountMinor)
	r.Region = region.String
	r.Category = category.String
	r.DeviceID = deviceID.String
	r.CaptureSessionID = captureSessionID.String
	r.SupersedesFilename = supersedesFilename.String
	r.RemotePath = remotePath.String
	r.LocalPath = localPath.String
	r.Source = Source(source)
	r.SyncState = SyncState(syncState)

	if r.CapturedAt, err = time.Parse(time.RFC3339Nano, capturedAt); err != nil {
		return Receipt{}, fmt.Errorf("receiptdao: parsing captured_at: %w", err)
	}

	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Receipt{}, fmt.Errorf("receiptdao: parsing created_at: %w", err)
	}

	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Receipt{}, fmt.Errorf("receiptdao: parsing updated_at: %w", err)
	}

	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}
