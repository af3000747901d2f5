// Package receiptdao is the sole writer of kira.db, the local SQLite store
// holding every Receipt row plus the durable queues layered on top of it
// (spec §3/§6).
package receiptdao

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kira-app/kira/pkg/decimal"
)

// NewReceiptID generates a fresh receipt_id for a newly captured or
// imported receipt.
func NewReceiptID() string {
	return uuid.NewString()
}

// Source records how a Receipt entered the store.
type Source string

const (
	SourceCamera Source = "camera"
	SourceImport Source = "import"
	SourceSync   Source = "sync"
)

func (s Source) valid() bool {
	switch s {
	case SourceCamera, SourceImport, SourceSync:
		return true
	default:
		return false
	}
}

// SyncState tracks a Receipt's progress through the two-step commit
// (spec §4.5/§7): the image upload and the index merge are separate steps,
// so a receipt can be durably uploaded but not yet reflected in index.json.
type SyncState string

const (
	SyncStateLocalOnly         SyncState = "local_only"
	SyncStateUploadedUnindexed SyncState = "uploaded_unindexed"
	SyncStateSynced            SyncState = "synced"
	SyncStateFailed            SyncState = "failed"
)

func (s SyncState) valid() bool {
	switch s {
	case SyncStateLocalOnly, SyncStateUploadedUnindexed, SyncStateSynced, SyncStateFailed:
		return true
	default:
		return false
	}
}

// Receipt is one captured or imported receipt, the durable record from
// which both the local file tree and every provider's index.json are
// ultimately derived.
type Receipt struct {
	ReceiptID          string
	CapturedAt         time.Time
	Timezone           string
	Filename           string
	AmountTracked      decimal.Money
	CurrencyCode       string
	Country            string
	Region             string
	Category           string
	ChecksumSHA256     string
	DeviceID           string
	CaptureSessionID   string
	SupersedesFilename string
	Conflict           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Source             Source
	SyncState          SyncState
	RemotePath         string
	LocalPath          string
	IsDeleted          bool
}

// Validate checks the invariants a Receipt must satisfy before Insert
// (spec §3: amount_tracked and currency_code together form the tracked
// total, checksum_sha256 is mandatory for dedup).
func (r Receipt) Validate() error {
	if r.ReceiptID == "" {
		return fmt.Errorf("receiptdao: receipt_id is required")
	}

	if r.Filename == "" {
		return fmt.Errorf("receiptdao: filename is required")
	}

	if r.ChecksumSHA256 == "" {
		return fmt.Errorf("receiptdao: checksum_sha256 is required")
	}

	if err := decimal.ValidateCurrencyCode(r.CurrencyCode); err != nil {
		return fmt.Errorf("receiptdao: %w", err)
	}

	if !r.Source.valid() {
		return fmt.Errorf("receiptdao: invalid source %q", r.Source)
	}

	if r.SyncState != "" && !r.SyncState.valid() {
		return fmt.Errorf("receiptdao: invalid sync_state %q", r.SyncState)
	}

	return nil
}
