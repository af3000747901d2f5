// Package auditor scans the on-disk mirror for drift against each day's
// index.json, persists deduplicated integrity alerts, and exposes the two
// explicit user actions — quarantine and dismiss — that are the only
// writes it ever performs outside of alert bookkeeping (spec §4.9/§5:
// "the auditor never writes files other than via explicit quarantine
// actions").
package auditor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kira-app/kira/internal/checksum"
	"github.com/kira-app/kira/internal/filename"
	"github.com/kira-app/kira/internal/receiptindex"
)

// AlertType is the closed enumeration of integrity_alerts.alert_type.
type AlertType string

const (
	AlertOrphanFile       AlertType = "orphan_file"
	AlertOrphanEntry      AlertType = "orphan_entry"
	AlertInvalidFilename  AlertType = "invalid_filename"
	AlertFolderMismatch   AlertType = "folder_mismatch"
	AlertChecksumMismatch AlertType = "checksum_mismatch"
	AlertUnexpectedFile   AlertType = "unexpected_file"
	AlertQuarantineAction AlertType = "quarantine_action"
)

// Severity is the closed enumeration of integrity_alerts.severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Resolution is the closed enumeration of integrity_alerts.resolution.
type Resolution string

const (
	ResolutionOpen        Resolution = "open"
	ResolutionResolved    Resolution = "resolved"
	ResolutionQuarantined Resolution = "quarantined"
)

// ErrAlertNotFound is returned by Quarantine/Dismiss when the alert id does
// not exist or is already resolved.
var ErrAlertNotFound = errors.New("auditor: alert not found or already resolved")

// Alert is one row of the integrity_alerts table.
type Alert struct {
	ID         int64
	AlertType  AlertType
	Severity   Severity
	FilePath   string
	Details    string
	DetectedAt time.Time
	ResolvedAt *time.Time
	Resolution Resolution
}

// Report summarizes one audit pass.
type Report struct {
	DaysScanned  int
	FilesScanned int
	AlertsRaised []Alert
	Full         bool
}

// Clock abstracts wall-clock time so tests can pin timestamps, matching the
// same small seam used by internal/indexservice.
type Clock interface {
	NowUTC() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) NowUTC() time.Time { return time.Now().UTC() }

// Service scans root, a local mirror directory laid out exactly like
// internal/folder's RemotePath (Receipts/<Country>/<YYYY>/<YYYY-MM>/<date>/),
// against each day folder's index.json.
type Service struct {
	db     *sql.DB
	root   string
	clock  Clock
	logger *slog.Logger
}

// New builds a Service over the shared kira.db connection and the resolved
// local mirror root.
func New(db *sql.DB, root string, clock Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Service{db: db, root: root, clock: clock, logger: logger}
}

// RunQuick performs the cheap pass: layout/naming/orphan checks only, no
// checksum recomputation.
func (s *Service) RunQuick(ctx context.Context) (Report, error) {
	return s.run(ctx, false, nil)
}

// RunFull performs every quick check plus SHA-256 recomputation for every
// file in dates (or every day folder found, if dates is nil).
func (s *Service) RunFull(ctx context.Context, dates []string) (Report, error) {
	return s.run(ctx, true, dates)
}

func (s *Service) run(ctx context.Context, full bool, restrictDates []string) (Report, error) {
	report := Report{Full: full}

	allow := map[string]bool{}
	for _, d := range restrictDates {
		allow[d] = true
	}

	dayDirs, err := s.findDayFolders(ctx)
	if err != nil {
		return report, fmt.Errorf("auditor: finding day folders: %w", err)
	}

	for _, dd := range dayDirs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if len(allow) > 0 && !allow[dd.date] {
			continue
		}

		raised, filesScanned, err := s.scanDayFolder(ctx, dd, full)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("auditor: scanning day folder failed",
					slog.String("path", dd.path), slog.String("error", err.Error()))
			}

			continue
		}

		report.DaysScanned++
		report.FilesScanned += filesScanned
		report.AlertsRaised = append(report.AlertsRaised, raised...)
	}

	return report, nil
}

type dayFolder struct {
	path    string
	date    string
	country string
}

// findDayFolders walks root looking for directories named YYYY-MM-DD,
// skipping any _Quarantine subtree (spec §4.9: "_Quarantine subfolders are
// skipped").
func (s *Service) findDayFolders(ctx context.Context) ([]dayFolder, error) {
	var found []dayFolder

	if s.root == "" {
		return found, nil
	}

	receiptsRoot := filepath.Join(s.root, "Receipts")

	countries, err := os.ReadDir(receiptsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return found, nil
		}

		return nil, err
	}

	for _, country := range countries {
		if !country.IsDir() {
			continue
		}

		countryPath := filepath.Join(receiptsRoot, country.Name())

		years, err := os.ReadDir(countryPath)
		if err != nil {
			continue
		}

		for _, year := range years {
			if !year.IsDir() {
				continue
			}

			yearPath := filepath.Join(countryPath, year.Name())

			months, err := os.ReadDir(yearPath)
			if err != nil {
				continue
			}

			for _, month := range months {
				if !month.IsDir() {
					continue
				}

				monthPath := filepath.Join(yearPath, month.Name())

				days, err := os.ReadDir(monthPath)
				if err != nil {
					continue
				}

				for _, day := range days {
					if !day.IsDir() || day.Name() == "_Quarantine" {
						continue
					}

					found = append(found, dayFolder{
						path:    filepath.Join(monthPath, day.Name()),
						date:    day.Name(),
						country: country.Name(),
					})
				}
			}
		}

		if ctx.Err() != nil {
			return found, ctx.Err()
		}
	}

	return found, nil
}

func (s *Service) scanDayFolder(ctx context.Context, dd dayFolder, full bool) ([]Alert, int, error) {
	var raised []Alert

	entries, err := os.ReadDir(dd.path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %q: %w", dd.path, err)
	}

	idx, idxErr := s.readDayIndex(dd.path)
	if idxErr != nil {
		alert, err := s.raiseAlert(ctx, AlertUnexpectedFile, SeverityCritical,
			filepath.Join(dd.path, "index.json"), "corrupted index.json: "+idxErr.Error())
		if err == nil && alert != nil {
			raised = append(raised, *alert)
		}
	}

	byFilename := map[string]receiptindex.Entry{}
	if idx != nil {
		for _, entry := range idx.Receipts {
			byFilename[entry.Filename] = entry
		}
	}

	filesScanned := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if ctx.Err() != nil {
			return raised, filesScanned, ctx.Err()
		}

		name := entry.Name()
		filesScanned++

		filePath := filepath.Join(dd.path, name)

		if name != "index.json" && !strings.HasSuffix(strings.ToLower(name), ".jpg") {
			if a, err := s.raiseAlert(ctx, AlertUnexpectedFile, SeverityWarning, filePath, "unexpected file type"); err == nil && a != nil {
				raised = append(raised, *a)
			}

			continue
		}

		if name == "index.json" {
			continue
		}

		if !filename.Valid(name) {
			if a, err := s.raiseAlert(ctx, AlertInvalidFilename, SeverityWarning, filePath, "does not match receipt filename pattern"); err == nil && a != nil {
				raised = append(raised, *a)
			}

			continue
		}

		datePrefix, _, _ := filename.ParseSuffix(name)
		if datePrefix != dd.date {
			if a, err := s.raiseAlert(ctx, AlertFolderMismatch, SeverityWarning, filePath,
				fmt.Sprintf("filename date %q does not match folder date %q", datePrefix, dd.date)); err == nil && a != nil {
				raised = append(raised, *a)
			}
		}

		indexEntry, inIndex := byFilename[name]
		if !inIndex {
			if a, err := s.raiseAlert(ctx, AlertOrphanFile, SeverityWarning, filePath, "present in folder but absent from index"); err == nil && a != nil {
				raised = append(raised, *a)
			}

			continue
		}

		if full {
			actual, err := checksum.SHA256File(filePath)
			if err != nil {
				continue
			}

			if actual != indexEntry.ChecksumSHA256 {
				if a, err := s.raiseAlert(ctx, AlertChecksumMismatch, SeverityCritical, filePath, "possible tampering: checksum does not match index"); err == nil && a != nil {
					raised = append(raised, *a)
				}
			}
		}
	}

	if idx != nil {
		present := map[string]bool{}
		for _, entry := range entries {
			if !entry.IsDir() {
				present[entry.Name()] = true
			}
		}

		for _, entry := range idx.Receipts {
			if !present[entry.Filename] {
				filePath := filepath.Join(dd.path, entry.Filename)
				if a, err := s.raiseAlert(ctx, AlertOrphanEntry, SeverityWarning, filePath, "indexed but absent from day folder"); err == nil && a != nil {
					raised = append(raised, *a)
				}
			}
		}
	}

	return raised, filesScanned, nil
}

func (s *Service) readDayIndex(dayPath string) (*receiptindex.DayIndex, error) {
	data, err := os.ReadFile(filepath.Join(dayPath, "index.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	idx, err := receiptindex.UnmarshalDayIndex(data)
	if err != nil {
		return nil, err
	}

	return idx, nil
}

// raiseAlert inserts a new alert unless an unresolved alert with the same
// (file_path, alert_type) already exists, per spec §4.9's dedup rule
// enforced at the database layer by a partial unique index.
func (s *Service) raiseAlert(ctx context.Context, alertType AlertType, severity Severity, filePath, details string) (*Alert, error) {
	now := s.clock.NowUTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO integrity_alerts (alert_type, severity, file_path, details, detected_at, resolution)
		VALUES (?, ?, ?, ?, ?, 'open')
		ON CONFLICT(file_path, alert_type) WHERE resolution = 'open' DO NOTHING`,
		string(alertType), string(severity), filePath, details, now)
	if err != nil {
		return nil, fmt.Errorf("auditor: inserting alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("auditor: checking insert result: %w", err)
	}

	if affected == 0 {
		return nil, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("auditor: reading inserted alert id: %w", err)
	}

	if s.logger != nil {
		s.logger.Warn("auditor: alert raised",
			slog.String("alert_type", string(alertType)),
			slog.String("severity", string(severity)),
			slog.String("file_path", filePath))
	}

	detectedAt, _ := time.Parse(time.RFC3339, now)

	return &Alert{
		ID:         id,
		AlertType:  alertType,
		Severity:   severity,
		FilePath:   filePath,
		Details:    details,
		DetectedAt: detectedAt,
		Resolution: ResolutionOpen,
	}, nil
}

// RecordAlert implements backfill.AlertRecorder, letting the backfill
// pipeline raise checksum_mismatch alerts through the same dedup path used
// by the scanner.
func (s *Service) RecordAlert(ctx context.Context, alertType, severity, filePath, details string) error {
	_, err := s.raiseAlert(ctx, AlertType(alertType), Severity(severity), filePath, details)

	return err
}

// Quarantine moves the alert's file under <month>/_Quarantine/<basename>,
// inserts an info quarantine_action alert, and marks the original resolved
// — all three writes in one transaction, matching the teacher's
// single-tx Ledger.WriteActions pattern for crash safety.
func (s *Service) Quarantine(ctx context.Context, alertID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auditor: beginning quarantine transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var filePath string

	err = tx.QueryRowContext(ctx, `
		SELECT file_path FROM integrity_alerts WHERE id = ? AND resolution = 'open'`, alertID).Scan(&filePath)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAlertNotFound
	}

	if err != nil {
		return fmt.Errorf("auditor: looking up alert: %w", err)
	}

	quarantineDir := filepath.Join(filepath.Dir(filepath.Dir(filePath)), "_Quarantine")
	if err := os.MkdirAll(quarantineDir, 0o700); err != nil {
		return fmt.Errorf("auditor: creating quarantine directory: %w", err)
	}

	dest := filepath.Join(quarantineDir, filepath.Base(filePath))
	if err := os.Rename(filePath, dest); err != nil {
		return fmt.Errorf("auditor: moving file to quarantine: %w", err)
	}

	now := s.clock.NowUTC().Format(time.RFC3339)

	res, err := tx.ExecContext(ctx, `
		UPDATE integrity_alerts SET resolution = 'quarantined', resolved_at = ? WHERE id = ? AND resolution = 'open'`,
		now, alertID)
	if err != nil {
		return fmt.Errorf("auditor: resolving original alert: %w", err)
	}

	if affected, err := res.RowsAffected(); err != nil || affected == 0 {
		return ErrAlertNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO integrity_alerts (alert_type, severity, file_path, details, detected_at, resolution)
		VALUES (?, 'info', ?, ?, ?, 'open')`,
		string(AlertQuarantineAction), dest, fmt.Sprintf("quarantined from %s (alert %d)", filePath, alertID), now); err != nil {
		return fmt.Errorf("auditor: recording quarantine action: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("auditor: committing quarantine transaction: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("auditor: file quarantined", slog.Int64("alert_id", alertID), slog.String("dest", dest))
	}

	return nil
}

// Dismiss flips resolved=true/resolved_at=now without touching any file.
func (s *Service) Dismiss(ctx context.Context, alertID int64) error {
	now := s.clock.NowUTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		UPDATE integrity_alerts SET resolution = 'resolved', resolved_at = ? WHERE id = ? AND resolution = 'open'`,
		now, alertID)
	if err != nil {
		return fmt.Errorf("auditor: dismissing alert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("auditor: checking dismiss result: %w", err)
	}

	if affected == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// ListOpen returns every unresolved alert, oldest first.
func (s *Service) ListOpen(ctx context.Context) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_type, severity, file_path, details, detected_at, resolved_at, resolution
		FROM integrity_alerts WHERE resolution = 'open' ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("auditor: listing open alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert

	for rows.Next() {
		var (
			a          Alert
			detectedAt string
			resolvedAt sql.NullString
		)

		if err := rows.Scan(&a.ID, &a.AlertType, &a.Severity, &a.FilePath, &a.Details, &detectedAt, &resolvedAt, &a.Resolution); err != nil {
			return nil, fmt.Errorf("auditor: scanning alert row: %w", err)
		}

		a.DetectedAt, _ = time.Parse(time.RFC3339, detectedAt)

		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339, resolvedAt.String)
			a.ResolvedAt = &t
		}

		out = append(out, a)
	}

	return out, rows.Err()
}
