package receiptdao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncStateCursor tracks one storage provider's incremental listing
// progress: the opaque cursor_token, when it was last advanced, and
// whether a full (non-incremental) sync must run before the cursor can be
// trusted again — true the first time a provider is linked, and whenever
// a listing call reports the cursor has expired.
type SyncStateCursor struct {
	ProviderID       string
	Country          string
	CursorToken      string
	LastSyncedAt     time.Time
	IsFullSyncNeeded bool
}

// GetCursor returns the cursor row for providerID, or ok=false if the
// provider has never been synced (a fresh link, not an error).
func (s *Store) GetCursor(ctx context.Context, providerID string) (SyncStateCursor, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider_id, country, cursor, updated_at, is_full_sync_needed
		FROM sync_state_cursors WHERE provider_id = ?`, providerID)

	var (
		c          SyncStateCursor
		country    sql.NullString
		updatedAt  string
		fullNeeded int
	)

	if err := row.Scan(&c.ProviderID, &country, &c.CursorToken, &updatedAt, &fullNeeded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SyncStateCursor{}, false, nil
		}

		return SyncStateCursor{}, false, fmt.Errorf("receiptdao: loading cursor for %s: %w", providerID, err)
	}

	parsed, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return SyncStateCursor{}, false, fmt.Errorf("receiptdao: parsing cursor timestamp for %s: %w", providerID, err)
	}

	c.Country = country.String
	c.LastSyncedAt = parsed
	c.IsFullSyncNeeded = fullNeeded != 0

	return c, true, nil
}

// SetCursor upserts the full cursor row for cursor.ProviderID, advancing
// the listing position after a successful incremental sync.
func (s *Store) SetCursor(ctx context.Context, cursor SyncStateCursor) error {
	if cursor.ProviderID == "" {
		return errors.New("receiptdao: cursor provider_id is required")
	}

	now := cursor.LastSyncedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state_cursors (provider_id, country, cursor, updated_at, is_full_sync_needed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			country = excluded.country,
			cursor = excluded.cursor,
			updated_at = excluded.updated_at,
			is_full_sync_needed = excluded.is_full_sync_needed`,
		cursor.ProviderID, nullString(cursor.Country), cursor.CursorToken,
		now.Format(time.RFC3339), boolToInt(cursor.IsFullSyncNeeded))
	if err != nil {
		return fmt.Errorf("receiptdao: upserting cursor for %s: %w", cursor.ProviderID, err)
	}

	return nil
}

// SetLastSyncAt stamps providerID's cursor with the current time without
// disturbing its cursor_token or is_full_sync_needed flag, creating a
// fresh full-sync-needed row if none exists yet.
func (s *Store) SetLastSyncAt(ctx context.Context, providerID string, at time.Time) error {
	now := at.UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state_cursors (provider_id, country, cursor, updated_at, is_full_sync_needed)
		VALUES (?, '', '', ?, 1)
		ON CONFLICT(provider_id) DO UPDATE SET updated_at = excluded.updated_at`,
		providerID, now)
	if err != nil {
		return fmt.Errorf("receiptdao: setting last_synced_at for %s: %w", providerID, err)
	}

	return nil
}

// SetFullSyncNeeded flips providerID's is_full_sync_needed flag, used once
// a full sync completes (false) or a listing call reports its cursor has
// expired (true).
func (s *Store) SetFullSyncNeeded(ctx context.Context, providerID string, needed bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state_cursors (provider_id, country, cursor, updated_at, is_full_sync_needed)
		VALUES (?, '', '', ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET is_full_sync_needed = excluded.is_full_sync_needed`,
		providerID, time.Now().UTC().Format(time.RFC3339), boolToInt(needed))
	if err != nil {
		return fmt.Errorf("receiptdao: setting full_sync_needed for %s: %w", providerID, err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
