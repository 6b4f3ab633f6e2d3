// Package tracking persists heuristic engine state in the key-value store.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haukened/rr-filter/internal/filter/domain"
	"github.com/haukened/rr-filter/internal/filter/repos/kv"
)

const (
	keyRecords = "tracking/records"
	keyBlocked = "tracking/blocked"
	keyAllowed = "tracking/allowed"
	keySavedAt = "tracking/saved_at"
)

// Repository stores a TrackingState as one batch of KV entries.
type Repository struct {
	store kv.Store
}

// New returns a Repository over store. Pass a kv.WithRetry store to get
// bounded retries.
func New(store kv.Store) *Repository {
	return &Repository{store: store}
}

// Save writes the whole state in one batched call.
func (r *Repository) Save(ctx context.Context, st domain.TrackingState) error {
	entries := make(map[string][]byte, 4)
	for key, v := range map[string]any{
		keyRecords: nonNil(st.Records),
		keyBlocked: nonNil(st.Blocked),
		keyAllowed: nonNil(st.Allowed),
		keySavedAt: st.SavedAt.UTC(),
	} {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		entries[key] = b
	}
	return r.store.SetMany(ctx, entries)
}

// Load reads the saved state. Missing keys yield empty fields, so a fresh
// store loads as an empty state.
func (r *Repository) Load(ctx context.Context) (domain.TrackingState, error) {
	var st domain.TrackingState
	got, err := r.store.GetMany(ctx, []string{keyRecords, keyBlocked, keyAllowed, keySavedAt})
	if err != nil {
		return st, err
	}
	targets := map[string]any{
		keyRecords: &st.Records,
		keyBlocked: &st.Blocked,
		keyAllowed: &st.Allowed,
		keySavedAt: &st.SavedAt,
	}
	for key, out := range targets {
		b, ok := got[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(b, out); err != nil {
			return domain.TrackingState{}, fmt.Errorf("decoding %s: %w", key, err)
		}
	}
	for i := range st.Records {
		rec := &st.Records[i]
		if rec.Sites == nil {
			rec.Sites = make(map[string]int)
		}
		if rec.Indicators == nil {
			rec.Indicators = make(map[domain.Indicator]struct{})
		}
	}
	return st, nil
}

// Clear removes all saved state.
func (r *Repository) Clear(ctx context.Context) error {
	return r.store.RemoveMany(ctx, []string{keyRecords, keyBlocked, keyAllowed, keySavedAt})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

