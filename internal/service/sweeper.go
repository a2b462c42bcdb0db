package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	tilotel "github.com/tillerhq/tiller/internal/adapter/otel"
	"github.com/tillerhq/tiller/internal/config"
	"github.com/tillerhq/tiller/internal/domain/undo"
	"github.com/tillerhq/tiller/internal/port/ledger"
)

// UndoSweeper periodically finalizes undo windows whose deadline has
// passed without an undo request. Finalization is idempotent and races
// safely with live undo requests, so running more than one sweeper (or
// restarting one mid-batch) is harmless.
type UndoSweeper struct {
	store  ledger.Store
	engine *ActionEngine
	cfg    config.Undo

	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func NewUndoSweeper(store ledger.Store, engine *ActionEngine, cfg config.Undo) *UndoSweeper {
	return &UndoSweeper{
		store:  store,
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *UndoSweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (s *UndoSweeper) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *UndoSweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	slog.Info("undo sweeper started",
		"interval", s.cfg.SweepInterval,
		"batch_size", s.cfg.SweepBatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep finalizes one batch of expired windows. Entries are processed
// in parallel with bounded concurrency; one entry's failure does not
// stop the rest of the batch. Each pass also purges undone entries
// past their deadline, which nothing else removes.
func (s *UndoSweeper) Sweep(ctx context.Context) (finalized int) {
	ctx, span := tilotel.StartSweepSpan(ctx)
	defer span.End()

	if purged, err := s.store.PurgeRequestedUndoEntries(ctx, s.now()); err != nil {
		slog.Error("purge requested undo entries", "error", err)
	} else if purged > 0 {
		slog.Debug("purged undone entries", "count", purged)
	}

	entries, err := s.store.ListExpiredUndoEntries(ctx, s.now(), s.cfg.SweepBatchSize)
	if err != nil {
		slog.Error("list expired undo entries", "error", err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}

	sem := semaphore.NewWeighted(s.cfg.SweepParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range entries {
		entry := entries[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(entry undo.BufferEntry) {
			defer wg.Done()
			defer sem.Release(1)

			if err := s.engine.Finalize(ctx, &entry); err != nil {
				slog.Error("finalize undo window", "action_id", entry.ActionID, "error", err)
				return
			}
			mu.Lock()
			finalized++
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	if finalized > 0 {
		slog.Info("undo sweep complete", "expired", len(entries), "finalized", finalized)
	}
	return finalized
}
