// Package coordinator owns the Receipt DAO, Sync Queue/Engine, Index
// Service, Backfill Service, and Integrity Auditor, and wires them
// together without any of them holding a back-pointer to it. Every other
// package in internal/ depends only on interfaces it declares itself;
// Coordinator is the one place that knows all the concrete types.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kira-app/kira/internal/auditor"
	"github.com/kira-app/kira/internal/backfill"
	"github.com/kira-app/kira/internal/folder"
	"github.com/kira-app/kira/internal/imaging"
	"github.com/kira-app/kira/internal/indexservice"
	"github.com/kira-app/kira/internal/notify"
	"github.com/kira-app/kira/internal/receiptdao"
	"github.com/kira-app/kira/internal/storage"
	"github.com/kira-app/kira/internal/syncengine"
	"github.com/kira-app/kira/internal/syncqueue"
)

// Coordinator is the thin wiring layer described above. It implements
// syncengine.Dispatcher directly, since dispatching a queue entry requires
// exactly the DAO+indexservice combination it already owns.
type Coordinator struct {
	Store    *receiptdao.Store
	Queue    *syncqueue.Queue
	Engine   *syncengine.Engine
	Index    *indexservice.Service
	Backfill *backfill.Service
	Auditor  *auditor.Service
	Hub      *notify.Hub

	provider    storage.Provider
	providerID  string
	workspaceID *string
	lowDataMode bool
	logger      *slog.Logger
}

// Config bundles the dependencies New needs to assemble a Coordinator.
type Config struct {
	Store       *receiptdao.Store
	Provider    storage.Provider
	ProviderID  string // e.g. "google_drive"; keys the Sync State Cursor row
	LocalRoot   string
	WorkspaceID *string
	Workers     int
	Hub         *notify.Hub
	Logger      *slog.Logger

	NetworkMonitor syncengine.NetworkMonitor
	SyncPolicy     string
	LowDataMode    bool
}

// New assembles every durability-core component over one shared database
// connection and one storage provider.
func New(cfg Config) *Coordinator {
	hub := cfg.Hub
	if hub == nil {
		hub = notify.NewHub()
	}

	c := &Coordinator{
		Store:       cfg.Store,
		provider:    cfg.Provider,
		providerID:  cfg.ProviderID,
		workspaceID: cfg.WorkspaceID,
		lowDataMode: cfg.LowDataMode,
		Hub:         hub,
		logger:      cfg.Logger,
	}

	folderSvc := folder.New(func() (string, error) { return cfg.LocalRoot, nil })

	c.Queue = syncqueue.New(cfg.Store.DB(), cfg.Logger)
	c.Index = indexservice.New(cfg.Store, indexservice.SystemClock{}, folderSvc)

	policy := syncengine.PolicyConfig{
		SyncPolicy:  syncengine.SyncPolicy(cfg.SyncPolicy),
		LowDataMode: cfg.LowDataMode,
	}

	if cfg.Workers > 0 {
		c.Engine = syncengine.New(c.Queue, c, cfg.Workers, cfg.Logger, cfg.NetworkMonitor, policy)
	} else {
		c.Engine = syncengine.NewDefault(c.Queue, c, cfg.Logger, cfg.NetworkMonitor, policy)
	}

	c.Auditor = auditor.New(cfg.Store.DB(), cfg.LocalRoot, auditor.SystemClock{}, cfg.Logger)
	c.Backfill = backfill.New(cfg.Store, c.Auditor, c.Index, cfg.Logger)

	return c
}

// EnqueueReceipt inserts receipt into the DAO unless a row with its
// receipt_id already exists (the capture watcher inserts before handing the
// receipt over), then enqueues its two commit steps with the dependency edge
// syncqueue enforces at dequeue time.
func (c *Coordinator) EnqueueReceipt(ctx context.Context, receipt receiptdao.Receipt) error {
	if _, err := c.Store.GetByID(ctx, receipt.ReceiptID); errors.Is(err, receiptdao.ErrNotFound) {
		if err := c.Store.Insert(ctx, receipt); err != nil {
			return fmt.Errorf("coordinator: inserting receipt: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("coordinator: looking up receipt: %w", err)
	}

	imageID, err := c.Queue.Enqueue(ctx, receipt.ReceiptID, syncqueue.OperationUploadImage, nil)
	if err != nil {
		return fmt.Errorf("coordinator: enqueuing upload_image: %w", err)
	}

	if _, err := c.Queue.Enqueue(ctx, receipt.ReceiptID, syncqueue.OperationUploadIndex, &imageID); err != nil {
		return fmt.Errorf("coordinator: enqueuing upload_index: %w", err)
	}

	return nil
}

// DispatchUploadImage implements syncengine.Dispatcher's Step 1.
func (c *Coordinator) DispatchUploadImage(ctx context.Context, receiptID string) error {
	receipt, err := c.Store.GetByID(ctx, receiptID)
	if err != nil {
		return fmt.Errorf("coordinator: loading receipt %s: %w", receiptID, err)
	}

	imageBytes, err := os.ReadFile(receipt.LocalPath)
	if err != nil {
		return fmt.Errorf("coordinator: reading local image for %s: %w", receiptID, err)
	}

	if c.lowDataMode {
		imageBytes = imaging.RecompressJPEG(imageBytes, imaging.LowDataQuality)
	}

	date, country := receiptDateAndCountry(receipt)

	return c.Index.UploadImageStep(ctx, c.provider, receipt, imageBytes, country, date, c.workspaceID)
}

// DispatchUploadIndex implements syncengine.Dispatcher's Step 2.
func (c *Coordinator) DispatchUploadIndex(ctx context.Context, receiptID string) error {
	receipt, err := c.Store.GetByID(ctx, receiptID)
	if err != nil {
		return fmt.Errorf("coordinator: loading receipt %s: %w", receiptID, err)
	}

	date, country := receiptDateAndCountry(receipt)

	return c.Index.CommitIndexStep(ctx, c.provider, receipt, country, date, c.workspaceID)
}

func receiptDateAndCountry(r receiptdao.Receipt) (date string, country folder.Country) {
	return r.CapturedAt.UTC().Format("2006-01-02"), folder.Country(r.Country)
}

// RunSyncCycle drains every ready queue entry once, resets any failed entry
// whose backoff has elapsed, and publishes the resulting state to Hub.
func (c *Coordinator) RunSyncCycle(ctx context.Context) error {
	if _, err := c.Engine.RetryDue(ctx); err != nil {
		c.Hub.PublishSyncProgress(notify.SyncProgress{Status: string(syncengine.StateError), Err: err})

		return fmt.Errorf("coordinator: checking retry-due entries: %w", err)
	}

	err := c.Engine.RunOnce(ctx)

	pending, countErr := c.Queue.CountPending(ctx)
	if countErr != nil {
		pending = -1
	}

	progress := notify.SyncProgress{Status: string(c.Engine.State()), Err: err}
	if pending == 0 {
		progress.Fraction = 1
	}

	c.Hub.PublishSyncProgress(progress)

	if err != nil {
		return fmt.Errorf("coordinator: running sync cycle: %w", err)
	}

	return nil
}

// cursorProviderID keys the Sync State Cursor row for this provider and
// country: the table's primary key is the bare provider_id column, but a
// provider is linked independently per country (see link-provider), so the
// two are combined into one composite identity.
func (c *Coordinator) cursorProviderID(country folder.Country) string {
	return c.providerID + ":" + string(country)
}

// RunBackfill walks every local-only receipt through the backfill pipeline
// for country, forwarding its progress to Hub. A provider's first backfill
// for a country is recorded via its Sync State Cursor row; once it
// completes, later RunBackfill calls (e.g. a stray retry of link-provider)
// skip the walk entirely rather than re-scanning every local receipt.
func (c *Coordinator) RunBackfill(ctx context.Context, country folder.Country) (backfill.Result, error) {
	cursorID := c.cursorProviderID(country)

	cursor, ok, err := c.Store.GetCursor(ctx, cursorID)
	if err != nil {
		return backfill.Result{}, fmt.Errorf("coordinator: loading sync cursor for %s: %w", cursorID, err)
	}

	if ok && !cursor.IsFullSyncNeeded {
		return backfill.Result{}, nil
	}

	all, err := c.Store.GetAllLocal(ctx)
	if err != nil {
		return backfill.Result{}, fmt.Errorf("coordinator: listing local receipts: %w", err)
	}

	var pending []receiptdao.Receipt

	for _, r := range all {
		if r.SyncState == receiptdao.SyncStateLocalOnly && folder.Country(r.Country) == country {
			pending = append(pending, r)
		}
	}

	result := c.Backfill.Run(ctx, c.provider, pending, country, c.workspaceID, hubBackfillProgress{c.Hub})

	if err := c.Store.SetFullSyncNeeded(ctx, cursorID, false); err != nil {
		return result, fmt.Errorf("coordinator: recording full sync completion for %s: %w", cursorID, err)
	}

	if err := c.Store.SetLastSyncAt(ctx, cursorID, time.Now().UTC()); err != nil {
		return result, fmt.Errorf("coordinator: recording last sync time for %s: %w", cursorID, err)
	}

	return result, nil
}

type hubBackfillProgress struct {
	hub *notify.Hub
}

func (h hubBackfillProgress) OnProgress(current, total, failedCount int, currentFilename string, isComplete bool) {
	h.hub.PublishBackfillProgress(notify.BackfillProgress{
		Current:         current,
		Total:           total,
		FailedCount:     failedCount,
		CurrentFilename: currentFilename,
		IsComplete:      isComplete,
	})
}

// RunQuickAudit runs the auditor's cheap pass and publishes every newly
// raised alert to Hub.
func (c *Coordinator) RunQuickAudit(ctx context.Context) (auditor.Report, error) {
	report, err := c.Auditor.RunQuick(ctx)
	c.publishAlerts(report)

	return report, err
}

// RunFullAudit runs the auditor's checksum-recomputing pass over dates (or
// every day folder, if dates is empty), publishing every newly raised
// alert to Hub.
func (c *Coordinator) RunFullAudit(ctx context.Context, dates []string) (auditor.Report, error) {
	report, err := c.Auditor.RunFull(ctx, dates)
	c.publishAlerts(report)

	return report, err
}

func (c *Coordinator) publishAlerts(report auditor.Report) {
	for _, a := range report.AlertsRaised {
		c.Hub.PublishAlertAdded(notify.AlertAdded{
			AlertType: string(a.AlertType),
			Severity:  string(a.Severity),
			FilePath:  a.FilePath,
		})
	}
}

// Quarantine and Dismiss pass through to the auditor directly; they are
// explicit user actions with no progress to report.
func (c *Coordinator) Quarantine(ctx context.Context, alertID int64) error {
	return c.Auditor.Quarantine(ctx, alertID)
}

func (c *Coordinator) Dismiss(ctx context.Context, alertID int64) error {
	return c.Auditor.Dismiss(ctx, alertID)
}

// Status summarizes the coordinator's current state for `kira status`.
type Status struct {
	EngineState    syncengine.State
	PendingInQueue int
	OpenAlerts     int
	CheckedAt      time.Time
}

// Status gathers a snapshot across the queue and the alert table.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	pending, err := c.Queue.CountPending(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("coordinator: counting pending queue entries: %w", err)
	}

	open, err := c.Auditor.ListOpen(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("coordinator: listing open alerts: %w", err)
	}

	return Status{
		EngineState:    c.Engine.State(),
		PendingInQueue: pending,
		OpenAlerts:     len(open),
		CheckedAt:      time.Now().UTC(),
	}, nil
}
