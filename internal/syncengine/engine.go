// Package syncengine drives the sync_queue dequeue-and-dispatch loop: a
// bounded pool of workers pulls ready entries (dependencies already
// satisfied), executes them through an injected Dispatcher, and records
// the outcome back onto the queue. It never sleeps inside the dispatch
// loop — retry timing is a schedule the caller consults, not a blocking
// wait buried in a goroutine.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kira-app/kira/internal/syncqueue"
)

// minWorkers is the floor for total worker count, regardless of configured
// transfer_workers.
const minWorkers = 4

// State is the engine's observable lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
	StateOffline State = "offline"
)

// Dispatcher executes one queue operation for a receipt. Declared here, at
// the consumer, so the engine depends on a capability rather than a
// concrete coordinator/indexservice type.
type Dispatcher interface {
	DispatchUploadImage(ctx context.Context, receiptID string) error
	DispatchUploadIndex(ctx context.Context, receiptID string) error
}

// Engine orchestrates syncqueue.Queue dispatch with a bounded worker pool.
type Engine struct {
	queue      *syncqueue.Queue
	dispatcher Dispatcher
	workers    int64
	logger     *slog.Logger
	monitor    NetworkMonitor
	policy     PolicyConfig

	mu    sync.Mutex
	state State
}

// New builds an Engine with an explicit worker count, floored at
// minWorkers exactly like the teacher's WorkerPool.Start. monitor reports
// current connectivity; a nil monitor falls back to the stdlib-backed
// default. policy gates dispatch per the configured sync_policy and
// low_data_mode settings.
func New(queue *syncqueue.Queue, dispatcher Dispatcher, workers int, logger *slog.Logger, monitor NetworkMonitor, policy PolicyConfig) *Engine {
	if workers < minWorkers {
		workers = minWorkers
	}

	if monitor == nil {
		monitor = NewInterfaceNetworkMonitor()
	}

	return &Engine{
		queue:      queue,
		dispatcher: dispatcher,
		workers:    int64(workers),
		logger:     logger,
		monitor:    monitor,
		policy:     policy,
		state:      StateIdle,
	}
}

// NewDefault builds an Engine sized to max(minWorkers, NumCPU), the
// default transfer_workers value absent an explicit configuration.
func NewDefault(queue *syncqueue.Queue, dispatcher Dispatcher, logger *slog.Logger, monitor NetworkMonitor, policy PolicyConfig) *Engine {
	workers := runtime.NumCPU()
	if workers < minWorkers {
		workers = minWorkers
	}

	return New(queue, dispatcher, workers, logger, monitor, policy)
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// RunOnce drains every currently-ready queue entry, dispatching up to
// e.workers concurrently, and returns once the queue offers nothing more
// ready to claim. Entries still waiting on a dependency, or backing off
// after a failure, are simply left for the next call.
func (e *Engine) RunOnce(ctx context.Context) error {
	if !admitByPolicy(e.monitor.Current(), e.policy) {
		e.setState(StateOffline)

		return nil
	}

	e.setState(StateSyncing)

	sem := semaphore.NewWeighted(e.workers)
	group, groupCtx := errgroup.WithContext(ctx)

	for {
		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}

		entry, ok, err := e.queue.GetNextPending(groupCtx)
		if err != nil {
			sem.Release(1)
			e.setState(StateError)

			return fmt.Errorf("syncengine: fetching next entry: %w", err)
		}

		if !ok {
			sem.Release(1)

			break
		}

		if err := e.queue.MarkInProgress(groupCtx, entry.ID); err != nil {
			sem.Release(1)

			if errors.Is(err, syncqueue.ErrNotClaimable) {
				continue
			}

			e.setState(StateError)

			return fmt.Errorf("syncengine: claiming entry %d: %w", entry.ID, err)
		}

		entry := entry

		group.Go(func() error {
			defer sem.Release(1)

			e.safeDispatch(groupCtx, entry)

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		e.setState(StateError)

		return fmt.Errorf("syncengine: worker group: %w", err)
	}

	e.setState(StateIdle)

	return nil
}

// safeDispatch recovers from a panic in Dispatcher, mirroring the
// teacher's safeExecuteAction so one bad action can't take down the pool.
func (e *Engine) safeDispatch(ctx context.Context, entry syncqueue.Entry) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("syncengine: panic dispatching entry",
					slog.Int64("id", entry.ID), slog.Any("panic", r))
			}

			e.failEntry(ctx, entry, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := e.dispatch(ctx, entry); err != nil {
		e.failEntry(ctx, entry, err.Error())

		return
	}

	if err := e.queue.MarkCompleted(ctx, entry.ID); err != nil && e.logger != nil {
		e.logger.Error("syncengine: marking entry completed",
			slog.Int64("id", entry.ID), slog.String("error", err.Error()))
	}
}

func (e *Engine) dispatch(ctx context.Context, entry syncqueue.Entry) error {
	switch entry.Operation {
	case syncqueue.OperationUploadImage:
		return e.dispatcher.DispatchUploadImage(ctx, entry.ReceiptID)
	case syncqueue.OperationUploadIndex:
		return e.dispatcher.DispatchUploadIndex(ctx, entry.ReceiptID)
	default:
		return fmt.Errorf("syncengine: unknown operation %q", entry.Operation)
	}
}

func (e *Engine) failEntry(ctx context.Context, entry syncqueue.Entry, msg string) {
	if err := e.queue.MarkFailed(ctx, entry.ID, msg); err != nil && e.logger != nil {
		e.logger.Error("syncengine: marking entry failed",
			slog.Int64("id", entry.ID), slog.String("error", err.Error()))
	}
}

// RetryDue resets every failed entry whose backoff window has elapsed back
// to pending, so the next RunOnce picks it up. It returns the number of
// entries reset. Entries whose retry budget is exhausted are left failed
// permanently.
func (e *Engine) RetryDue(ctx context.Context) (int, error) {
	failed, err := e.queue.ListFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("syncengine: listing failed entries: %w", err)
	}

	reset := 0

	for _, entry := range failed {
		if entry.CompletedAt == nil {
			continue
		}

		delay, exhausted := backoffForAttempt(entry.RetryCount - 1)
		if exhausted {
			continue
		}

		if time.Since(*entry.CompletedAt) < delay {
			continue
		}

		if err := e.queue.ResetFailed(ctx, entry.ID); err != nil {
			if errors.Is(err, syncqueue.ErrNotClaimable) {
				continue
			}

			return reset, fmt.Errorf("syncengine: resetting entry %d: %w", entry.ID, err)
		}

		reset++
	}

	return reset, nil
}
