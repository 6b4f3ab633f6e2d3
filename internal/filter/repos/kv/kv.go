// Package kv defines the key-value persistence boundary used for settings,
// disabled-domain lists and heuristic state.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get for absent keys.
	ErrNotFound = errors.New("key not found")
	// ErrPersistence wraps the last failure of a persistence operation after
	// its retries ran out.
	ErrPersistence = errors.New("persistence failed")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid key")
)

// Store is a string-keyed byte store. Keys may carry a "namespace/" prefix.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// GetMany omits absent keys from the result.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte) error
	RemoveMany(ctx context.Context, keys []string) error
	Close() error
}

// GetJSON decodes the value stored under key into out.
func GetJSON(ctx context.Context, s Store, key string, out any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decoding %q: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return s.Set(ctx, key, b)
}
