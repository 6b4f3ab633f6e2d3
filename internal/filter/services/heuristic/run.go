package heuristic

import (
	"context"
	"time"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// shutdownSaveTimeout bounds the final save after Run's context ends.
const shutdownSaveTimeout = 5 * time.Second

// Cleanup evicts observed-only records idle for longer than MaxRecordAge
// and refreshes the decayed score of the rest. Decided domains keep their
// status whether or not their record is evicted. It returns the number of
// evicted records.
func (e *Engine) Cleanup() int {
	now := e.clock.Now()
	e.mu.Lock()
	evicted := 0
	for d, rec := range e.records {
		status := e.statusLocked(d)
		if status == domain.StatusObserved && now.Sub(rec.LastSeen) > e.cfg.MaxRecordAge {
			delete(e.records, d)
			evicted++
			continue
		}
		rec.Score = e.cfg.score(rec, now)
	}
	remaining := len(e.records)
	e.mu.Unlock()

	if evicted > 0 {
		e.logger.Info(map[string]any{"evicted": evicted, "remaining": remaining}, "tracking_cleanup")
	}
	return evicted
}

// Run drives periodic cleanup and saves state after decisions and on every
// cleanup tick. When ctx ends it saves once more and returns.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownSaveTimeout)
			err := e.Persist(saveCtx)
			cancel()
			return err
		case <-ticker.C:
			e.Cleanup()
			_ = e.Persist(ctx)
		case <-e.persistReq:
			_ = e.Persist(ctx)
		}
	}
}
