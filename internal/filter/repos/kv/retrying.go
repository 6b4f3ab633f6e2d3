package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/common/retry"
)

// retryingStore retries every operation of the wrapped Store under one
// policy. Absent keys and invalid keys are not retried.
type retryingStore struct {
	inner  Store
	policy retry.Policy
	logger log.Logger
}

// WithRetry wraps s so transient failures are retried with backoff and
// exhausted operations surface as ErrPersistence.
func WithRetry(s Store, policy retry.Policy, logger log.Logger) Store {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &retryingStore{inner: s, policy: policy, logger: logger}
}

func permanent(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) {
		return retry.Permanent(err)
	}
	return err
}

func (r *retryingStore) fail(op, key string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) || errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.Error(map[string]any{"op": op, "key": key, "error": err}, "persistence_failed")
	return fmt.Errorf("%w: %s %q: %w", ErrPersistence, op, key, err)
}

func (r *retryingStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) ([]byte, error) {
		v, err := r.inner.Get(ctx, key)
		return v, permanent(err)
	})
	if err != nil {
		return nil, r.fail("get", key, err)
	}
	return v, nil
}

func (r *retryingStore) Set(ctx context.Context, key string, value []byte) error {
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return permanent(r.inner.Set(ctx, key, value))
	})
	if err != nil {
		return r.fail("set", key, err)
	}
	return nil
}

func (r *retryingStore) Remove(ctx context.Context, key string) error {
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return permanent(r.inner.Remove(ctx, key))
	})
	if err != nil {
		return r.fail("remove", key, err)
	}
	return nil
}

func (r *retryingStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	v, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) (map[string][]byte, error) {
		v, err := r.inner.GetMany(ctx, keys)
		return v, permanent(err)
	})
	if err != nil {
		return nil, r.fail("get_many", fmt.Sprint(len(keys), " keys"), err)
	}
	return v, nil
}

func (r *retryingStore) SetMany(ctx context.Context, entries map[string][]byte) error {
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return permanent(r.inner.SetMany(ctx, entries))
	})
	if err != nil {
		return r.fail("set_many", fmt.Sprint(len(entries), " keys"), err)
	}
	return nil
}

func (r *retryingStore) RemoveMany(ctx context.Context, keys []string) error {
	err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return permanent(r.inner.RemoveMany(ctx, keys))
	})
	if err != nil {
		return r.fail("remove_many", fmt.Sprint(len(keys), " keys"), err)
	}
	return nil
}

func (r *retryingStore) Close() error { return r.inner.Close() }
