package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

const defaultCooldownSeconds = 60

// RateLimitController tracks the remaining call budget reported by the chat
// service and owns the single process-wide cooldown timer.
type RateLimitController struct {
	api    ports.ChatAPI
	exec   *Executor
	tokens TokenSource
	clock  ports.Clock
	log    *zap.Logger

	mu       sync.Mutex
	snapshot domain.RateLimitSnapshot
	active   bool
	timer    ports.Timer
}

func NewRateLimitController(api ports.ChatAPI, exec *Executor, tokens TokenSource, clock ports.Clock, log *zap.Logger) *RateLimitController {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &RateLimitController{
		api:    api,
		exec:   exec,
		tokens: tokens,
		clock:  clock,
		log:    log,
	}
}

// Query fetches a fresh snapshot, superseding the retained one wholesale.
// On failure the previous snapshot stays available through Snapshot().
func (c *RateLimitController) Query(ctx context.Context) (domain.RateLimitSnapshot, error) {
	var snap domain.RateLimitSnapshot
	err := c.exec.Execute(ctx, "fetch rate limit", func(ctx context.Context) error {
		var err error
		snap, err = c.api.FetchRateLimit(ctx, c.tokens.CurrentToken(ctx), c.exec.CurrentProxy())
		return err
	})
	if err != nil {
		return c.Snapshot(), err
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	c.log.Debug("rate limit refreshed",
		zap.Int("remaining", snap.Remaining),
		zap.Int("limit", snap.Limit),
		zap.Int("reset_seconds", snap.ResetSeconds))
	return snap, nil
}

// IsAvailable reports whether call budget remains, based on a fresh query.
// A failed query counts as available so automation is never false-stopped by
// a telemetry hiccup.
func (c *RateLimitController) IsAvailable(ctx context.Context) bool {
	snap, err := c.Query(ctx)
	if err != nil {
		c.log.Warn("rate limit check failed, assuming available", zap.Error(err))
		return true
	}
	return !snap.Exhausted()
}

// StartCooldown arms the one-shot cooldown timer for the service-reported
// reset window (60s when that query fails) and invokes onComplete when it
// fires. Returns false without side effects when a cooldown is already
// active: at most one cooldown exists process-wide.
func (c *RateLimitController) StartCooldown(ctx context.Context, onComplete func()) bool {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		c.log.Warn("cooldown already active")
		return false
	}
	c.active = true
	c.mu.Unlock()

	seconds := defaultCooldownSeconds
	if snap, err := c.Query(ctx); err == nil && snap.ResetSeconds > 0 {
		seconds = snap.ResetSeconds
	} else if err != nil {
		c.log.Warn("rate limit query for cooldown failed, using default window",
			zap.Int("default_seconds", defaultCooldownSeconds),
			zap.Error(err))
	}

	duration := time.Duration(seconds) * time.Second
	c.log.Warn("starting cooldown", zap.Duration("duration", duration))

	c.mu.Lock()
	if !c.active {
		// Cancelled while the reset window was being queried.
		c.mu.Unlock()
		return false
	}
	c.timer = c.clock.AfterFunc(duration, func() {
		c.mu.Lock()
		c.active = false
		c.timer = nil
		c.mu.Unlock()
		c.log.Info("cooldown complete")
		if onComplete != nil {
			onComplete()
		}
	})
	c.mu.Unlock()
	return true
}

// CancelCooldown clears an active cooldown immediately, typically because an
// alternate account made the wait unnecessary. Returns whether a cooldown
// was actually cancelled.
func (c *RateLimitController) CancelCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return false
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.active = false
	c.log.Info("cooldown cancelled")
	return true
}

func (c *RateLimitController) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns the last known rate-limit values, possibly stale.
func (c *RateLimitController) Snapshot() domain.RateLimitSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}
