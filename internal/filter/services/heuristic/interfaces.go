package heuristic

import (
	"context"

	"github.com/haukened/rr-filter/internal/filter/domain"
)

// Sink receives every decision the engine makes. Publish must not block.
type Sink interface {
	Publish(d domain.BlockDecision)
}

// StateStore persists engine state between runs.
type StateStore interface {
	Save(ctx context.Context, st domain.TrackingState) error
	Load(ctx context.Context) (domain.TrackingState, error)
}

// Sessions receives blocked-request attribution per initiator site.
type Sessions interface {
	AddBlocked(site, tracker string, n int)
}

// Recorder receives engine activity counts.
type Recorder interface {
	ObserveEvent(outcome string)
	ObserveDecision(kind string)
	ObserveTracked(records, blocked, allowed int)
}

type nopSink struct{}

func (nopSink) Publish(domain.BlockDecision) {}

type nopSessions struct{}

func (nopSessions) AddBlocked(string, string, int) {}

type nopRecorder struct{}

func (nopRecorder) ObserveEvent(string)         {}
func (nopRecorder) ObserveDecision(string)      {}
func (nopRecorder) ObserveTracked(int, int, int) {}
