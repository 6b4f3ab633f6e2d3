package idspace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpGuard_RefusesSecondCaller(t *testing.T) {
	g := NewOpGuard(nil)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- g.TryRun(context.Background(), "recompute-allow-rules", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ran := false
	err := g.TryRun(context.Background(), "recompute-allow-rules", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrInProgress)
	assert.False(t, ran)

	// a different name is independent
	require.NoError(t, g.TryRun(context.Background(), "recompute-ruleset", func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, <-done)

	// released after completion
	require.NoError(t, g.TryRun(context.Background(), "recompute-allow-rules", func(context.Context) error { return nil }))
}

func TestOpGuard_PropagatesError(t *testing.T) {
	g := NewOpGuard(nil)
	boom := errors.New("boom")
	err := g.TryRun(context.Background(), "op", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, g.TryRun(context.Background(), "op", func(context.Context) error { return nil }))
}
