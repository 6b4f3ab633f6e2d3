package idspace

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/haukened/rr-filter/internal/filter/common/log"
)

// OpGuard lets at most one instance of each named operation run at a time.
// A second caller is refused with ErrInProgress and does no work.
type OpGuard struct {
	mu     sync.Mutex
	ops    map[string]*semaphore.Weighted
	logger log.Logger
}

// NewOpGuard returns an empty guard.
func NewOpGuard(logger log.Logger) *OpGuard {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &OpGuard{ops: make(map[string]*semaphore.Weighted), logger: logger}
}

func (g *OpGuard) sem(name string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.ops[name]
	if !ok {
		s = semaphore.NewWeighted(1)
		g.ops[name] = s
	}
	return s
}

// TryRun runs fn unless an operation with the same name is in flight.
func (g *OpGuard) TryRun(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	s := g.sem(name)
	if !s.TryAcquire(1) {
		g.logger.Debug(map[string]any{"operation": name}, "operation_in_progress")
		return fmt.Errorf("%w: %s", ErrInProgress, name)
	}
	defer s.Release(1)
	return fn(ctx)
}
