package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
)

type staticTokens struct{ token string }

func (s staticTokens) CurrentToken(context.Context) string { return s.token }

func newTestController(api *fakeAPI, clock *fakeClock) *RateLimitController {
	exec, _ := newTestExecutor(nil, DefaultRetryPolicy())
	return NewRateLimitController(api, exec, staticTokens{token: "t1"}, clock, zap.NewNop())
}

func TestQueryRetainsLastSnapshotOnFailure(t *testing.T) {
	t.Parallel()

	healthy := true
	api := &fakeAPI{
		rateFn: func(string) (domain.RateLimitSnapshot, error) {
			if !healthy {
				return domain.RateLimitSnapshot{}, &domain.StatusError{Code: 400}
			}
			return domain.RateLimitSnapshot{Limit: 50, Remaining: 12, ResetSeconds: 200}, nil
		},
	}
	c := newTestController(api, newFakeClock())

	snap, err := c.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, snap.Remaining)

	healthy = false
	stale, err := c.Query(context.Background())
	require.Error(t, err)
	assert.Equal(t, 12, stale.Remaining)
	assert.Equal(t, 12, c.Snapshot().Remaining)
}

func TestIsAvailableOptimisticOnQueryFailure(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		rateFn: func(string) (domain.RateLimitSnapshot, error) {
			return domain.RateLimitSnapshot{}, &domain.StatusError{Code: 400}
		},
	}
	c := newTestController(api, newFakeClock())

	assert.True(t, c.IsAvailable(context.Background()))
}

func TestIsAvailableReflectsRemaining(t *testing.T) {
	t.Parallel()

	remaining := 1
	api := &fakeAPI{
		rateFn: func(string) (domain.RateLimitSnapshot, error) {
			return domain.RateLimitSnapshot{Limit: 50, Remaining: remaining, ResetSeconds: 90}, nil
		},
	}
	c := newTestController(api, newFakeClock())

	assert.True(t, c.IsAvailable(context.Background()))
	remaining = 0
	assert.False(t, c.IsAvailable(context.Background()))
}

func TestStartCooldownUsesReportedResetWindow(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		rateFn: func(string) (domain.RateLimitSnapshot, error) {
			return domain.RateLimitSnapshot{Limit: 50, Remaining: 0, ResetSeconds: 90}, nil
		},
	}
	clock := newFakeClock()
	c := newTestController(api, clock)

	completed := false
	started := c.StartCooldown(context.Background(), func() { completed = true })
	require.True(t, started)
	assert.True(t, c.IsActive())

	clock.Advance(89 * time.Second)
	assert.False(t, completed)
	assert.True(t, c.IsActive())

	clock.Advance(time.Second)
	assert.True(t, completed)
	assert.False(t, c.IsActive())
}

func TestStartCooldownDefaultsWhenQueryFails(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		rateFn: func(string) (domain.RateLimitSnapshot, error) {
			return domain.RateLimitSnapshot{}, &domain.StatusError{Code: 400}
		},
	}
	clock := newFakeClock()
	c := newTestController(api, clock)

	completed := false
	require.True(t, c.StartCooldown(context.Background(), func() { completed = true }))

	clock.Advance(59 * time.Second)
	assert.False(t, completed)
	clock.Advance(time.Second)
	assert.True(t, completed)
}

func TestStartCooldownRefusesSecondWhileActive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestController(&fakeAPI{}, clock)

	require.True(t, c.StartCooldown(context.Background(), nil))
	assert.False(t, c.StartCooldown(context.Background(), nil))
}

func TestCancelCooldownStopsTimer(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		rateFn: func(string) (domain.RateLimitSnapshot, error) {
			return domain.RateLimitSnapshot{Limit: 50, Remaining: 0, ResetSeconds: 30}, nil
		},
	}
	clock := newFakeClock()
	c := newTestController(api, clock)

	completed := false
	require.True(t, c.StartCooldown(context.Background(), func() { completed = true }))
	require.True(t, c.CancelCooldown())
	assert.False(t, c.IsActive())
	assert.Zero(t, clock.pendingTimers())

	clock.Advance(time.Hour)
	assert.False(t, completed)

	// A fresh cooldown can start after cancellation.
	assert.True(t, c.StartCooldown(context.Background(), nil))
}

func TestCancelCooldownIdleIsNoOp(t *testing.T) {
	t.Parallel()

	c := newTestController(&fakeAPI{}, newFakeClock())
	assert.False(t, c.CancelCooldown())
}
