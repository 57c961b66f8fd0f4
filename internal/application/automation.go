package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

// AutomationConfig carries the timing knobs of the chat loop. Zero values
// are replaced by the defaults in DefaultAutomationConfig.
type AutomationConfig struct {
	// SwitchInterval forces an account rotation after this long on one
	// account regardless of its health.
	SwitchInterval time.Duration
	// MinTurnDelay and MaxTurnDelay bound the uniform random pause between
	// chat turns.
	MinTurnDelay time.Duration
	MaxTurnDelay time.Duration
	// ShortRetryDelay reschedules the loop after a below-ceiling send
	// failure or a recoverable account-switch hiccup.
	ShortRetryDelay time.Duration
	// ErrorCeiling is the consecutive-error count that triggers the long
	// cooldown (and the switch-failure count that stops the loop).
	ErrorCeiling int
	// LongCooldown pauses the loop after ErrorCeiling consecutive errors.
	LongCooldown time.Duration
	// RestartDelay schedules an automatic restart after a transient
	// bootstrap failure.
	RestartDelay time.Duration
	// TransientBackoff delays the next iteration after an auth failure
	// resolved by switching accounts.
	TransientBackoff time.Duration
	// CooldownPollDelay re-checks a single-account cooldown.
	CooldownPollDelay time.Duration
}

func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		SwitchInterval:    600 * time.Second,
		MinTurnDelay:      3 * time.Second,
		MaxTurnDelay:      10 * time.Second,
		ShortRetryDelay:   10 * time.Second,
		ErrorCeiling:      3,
		LongCooldown:      180 * time.Second,
		RestartDelay:      10 * time.Second,
		TransientBackoff:  5 * time.Second,
		CooldownPollDelay: 1 * time.Second,
	}
}

func (c AutomationConfig) withDefaults() AutomationConfig {
	d := DefaultAutomationConfig()
	if c.SwitchInterval <= 0 {
		c.SwitchInterval = d.SwitchInterval
	}
	if c.MinTurnDelay <= 0 {
		c.MinTurnDelay = d.MinTurnDelay
	}
	if c.MaxTurnDelay <= c.MinTurnDelay {
		c.MaxTurnDelay = c.MinTurnDelay + (d.MaxTurnDelay - d.MinTurnDelay)
	}
	if c.ShortRetryDelay <= 0 {
		c.ShortRetryDelay = d.ShortRetryDelay
	}
	if c.ErrorCeiling <= 0 {
		c.ErrorCeiling = d.ErrorCeiling
	}
	if c.LongCooldown <= 0 {
		c.LongCooldown = d.LongCooldown
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = d.RestartDelay
	}
	if c.TransientBackoff <= 0 {
		c.TransientBackoff = d.TransientBackoff
	}
	if c.CooldownPollDelay <= 0 {
		c.CooldownPollDelay = d.CooldownPollDelay
	}
	return c
}

// Automation drives the timer-based chat loop: it bootstraps a session,
// sends prompts on a randomized cadence, rotates accounts on schedule and on
// exhaustion, and survives transient failures with layered backoffs.
//
// All timer callbacks funnel through iterate, which serializes iterations
// with loopMu so a slow iteration can never overlap the next one.
type Automation struct {
	session *SessionManager
	chat    *ChatService
	limits  *RateLimitController
	prompts ports.PromptGenerator
	sink    ports.StatusSink
	clock   ports.Clock
	log     *zap.Logger
	cfg     AutomationConfig
	rand    *rand.Rand

	// loopMu is held for the duration of one iteration.
	loopMu sync.Mutex

	mu             sync.Mutex
	running        bool
	paused         bool
	stopReason     string
	consecErrors   int
	switchFailures int
	switchDue      bool
	switchDeadline time.Time
	loopTimer      ports.Timer
	switchTimer    ports.Timer
	countdownTimer ports.Timer
	restartTimer   ports.Timer
	cancel         context.CancelFunc
	ctx            context.Context
}

func NewAutomation(
	session *SessionManager,
	chat *ChatService,
	limits *RateLimitController,
	prompts ports.PromptGenerator,
	sink ports.StatusSink,
	clock ports.Clock,
	cfg AutomationConfig,
	log *zap.Logger,
) *Automation {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if sink == nil {
		sink = ports.NopStatusSink{}
	}
	return &Automation{
		session: session,
		chat:    chat,
		limits:  limits,
		prompts: prompts,
		sink:    sink,
		clock:   clock,
		log:     log,
		cfg:     cfg.withDefaults(),
		rand:    rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Start bootstraps a session and begins the loop. A second Start while
// running is a no-op. A transient bootstrap failure schedules one automatic
// restart after RestartDelay.
func (a *Automation) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	a.paused = false
	a.stopReason = ""
	a.consecErrors = 0
	a.switchFailures = 0
	a.switchDue = false
	if a.restartTimer != nil {
		a.restartTimer.Stop()
		a.restartTimer = nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.ctx = loopCtx
	a.cancel = cancel
	a.mu.Unlock()

	a.sink.SetStatus("starting automation", ports.SeverityInfo)
	if err := a.bootstrap(loopCtx); err != nil {
		a.mu.Lock()
		a.running = false
		a.cancel()
		transient := domain.IsTransient(err)
		if transient && a.restartTimer == nil {
			a.restartTimer = a.clock.AfterFunc(a.cfg.RestartDelay, func() {
				a.mu.Lock()
				a.restartTimer = nil
				running := a.running
				a.mu.Unlock()
				if !running {
					if rerr := a.Start(ctx); rerr != nil {
						a.log.Error("automatic restart failed", zap.Error(rerr))
					}
				}
			})
		}
		a.mu.Unlock()
		a.sink.SetStatus(fmt.Sprintf("start failed: %v", err), ports.SeverityError)
		return fmt.Errorf("start automation: %w", err)
	}

	a.scheduleSwitch()
	a.scheduleIteration(0)
	a.publishStatus()
	a.log.Info("automation started",
		zap.Int("accounts", a.session.Count()),
		zap.Duration("switch_interval", a.cfg.SwitchInterval))
	return nil
}

// bootstrap logs in, publishes the account snapshot, and prepares the chat
// state for the first turn.
func (a *Automation) bootstrap(ctx context.Context) error {
	if _, err := a.session.Login(ctx, false); err != nil {
		return err
	}
	a.showIdentity()

	if points, err := a.chat.Points(ctx); err != nil {
		a.log.Warn("initial points fetch failed", zap.Error(err))
	} else {
		a.sink.ShowPoints(points)
	}
	if snapshot, err := a.limits.Query(ctx); err != nil {
		a.log.Warn("initial rate limit query failed", zap.Error(err))
	} else {
		a.sink.ShowRateLimit(snapshot)
	}
	models, err := a.chat.Models(ctx, false)
	if err != nil {
		return fmt.Errorf("bootstrap model list: %w", err)
	}
	a.sink.ShowModels(models)
	if _, err := a.chat.SelectDefaultModel(ctx); err != nil {
		return err
	}
	a.chat.NewThread()
	return nil
}

// Pause suspends turn activity and stops the scheduled-switch timers. The
// loop timer keeps firing; iterations observe the paused flag and return.
func (a *Automation) Pause() {
	a.mu.Lock()
	if !a.running || a.paused {
		a.mu.Unlock()
		return
	}
	a.paused = true
	if a.switchTimer != nil {
		a.switchTimer.Stop()
		a.switchTimer = nil
	}
	if a.countdownTimer != nil {
		a.countdownTimer.Stop()
		a.countdownTimer = nil
	}
	a.mu.Unlock()
	a.log.Info("automation paused")
	a.publishStatus()
}

// Resume continues a paused loop. Refused while a cooldown is in progress;
// the cooldown's completion callback resumes activity itself.
func (a *Automation) Resume() {
	if a.limits.IsActive() {
		a.sink.SetStatus("cannot resume during cooldown", ports.SeverityWarning)
		return
	}
	a.mu.Lock()
	if !a.running || !a.paused {
		a.mu.Unlock()
		return
	}
	a.paused = false
	a.consecErrors = 0
	a.mu.Unlock()
	a.scheduleSwitch()
	a.scheduleIteration(0)
	a.log.Info("automation resumed")
	a.publishStatus()
}

// Stop halts everything and records why.
func (a *Automation) Stop(reason string) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.paused = false
	a.stopReason = reason
	a.stopTimersLocked()
	if a.cancel != nil {
		a.cancel()
	}
	a.mu.Unlock()
	a.limits.CancelCooldown()
	a.log.Info("automation stopped", zap.String("reason", reason))
	a.sink.SetStatus("automation stopped: "+reason, stopSeverity(reason))
}

func stopSeverity(reason string) ports.Severity {
	if reason == "requested" {
		return ports.SeverityInfo
	}
	return ports.SeverityError
}

func (a *Automation) stopTimersLocked() {
	for _, t := range []*ports.Timer{&a.loopTimer, &a.switchTimer, &a.countdownTimer, &a.restartTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// SwitchNow requests an account rotation at the top of the next iteration.
func (a *Automation) SwitchNow() {
	if a.session.Count() <= 1 {
		a.sink.SetStatus("only one account configured", ports.SeverityWarning)
		return
	}
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.switchDue = true
	a.mu.Unlock()
	a.scheduleIteration(0)
}

func (a *Automation) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running && !a.paused
}

func (a *Automation) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running && a.paused
}

func (a *Automation) StopReason() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopReason
}

// scheduleIteration arms the loop timer, replacing any pending one.
func (a *Automation) scheduleIteration(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	if a.loopTimer != nil {
		a.loopTimer.Stop()
	}
	a.loopTimer = a.clock.AfterFunc(delay, a.iterate)
}

// scheduleSwitch arms the forced-rotation timer and a 1Hz countdown for the
// status line. Rotation needs somewhere to rotate to, so a single-account
// pool arms nothing.
func (a *Automation) scheduleSwitch() {
	if a.session.Count() <= 1 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	if a.switchTimer != nil {
		a.switchTimer.Stop()
	}
	if a.countdownTimer != nil {
		a.countdownTimer.Stop()
	}
	a.switchDeadline = a.clock.Now().Add(a.cfg.SwitchInterval)
	a.switchTimer = a.clock.AfterFunc(a.cfg.SwitchInterval, func() {
		a.mu.Lock()
		a.switchDue = true
		a.mu.Unlock()
		a.scheduleIteration(0)
	})
	a.armCountdownLocked()
}

func (a *Automation) armCountdownLocked() {
	a.countdownTimer = a.clock.AfterFunc(time.Second, func() {
		a.publishStatus()
		a.mu.Lock()
		if a.running && !a.paused && a.countdownTimer != nil {
			a.armCountdownLocked()
		}
		a.mu.Unlock()
	})
}

// iterate runs one loop pass. loopMu guarantees passes never overlap even
// when a timer fires while a previous pass is still in flight.
func (a *Automation) iterate() {
	a.loopMu.Lock()
	defer a.loopMu.Unlock()

	a.mu.Lock()
	if !a.running || a.paused {
		a.mu.Unlock()
		return
	}
	ctx := a.ctx
	a.mu.Unlock()

	delay, ok := a.runIteration(ctx)
	if !ok {
		return
	}
	a.scheduleIteration(delay)
}

// runIteration performs one pass and returns the delay before the next. A
// false second return means the loop has been stopped or rescheduling is
// handled elsewhere (cooldown completion callback).
func (a *Automation) runIteration(ctx context.Context) (time.Duration, bool) {
	// Forced rotation first.
	a.mu.Lock()
	due := a.switchDue
	a.switchDue = false
	a.mu.Unlock()
	if due {
		a.limits.CancelCooldown()
		if !a.switchAccount(ctx) {
			return 0, false
		}
		return a.nextTurnDelay(), true
	}

	// An in-progress cooldown: with spare accounts, abandon it and rotate;
	// alone, keep polling until the window clears.
	if a.limits.IsActive() {
		if a.session.Count() > 1 {
			a.limits.CancelCooldown()
			if !a.switchAccount(ctx) {
				return 0, false
			}
			return a.nextTurnDelay(), true
		}
		return a.cfg.CooldownPollDelay, true
	}

	if !a.limits.IsAvailable(ctx) {
		return a.handleExhaustion(ctx)
	}

	prompt := a.prompts.NextPrompt(ctx)
	if _, err := a.chat.Send(ctx, prompt); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, false
		}
		delay, ok := a.handleSendError(ctx, err)
		if !ok {
			return 0, false
		}
		// A recoverable failure still walks the display and status steps.
		a.refreshDisplays(ctx)
		if a.preemptiveSwitch(ctx) {
			return a.nextTurnDelay(), true
		}
		a.publishStatus()
		return delay, true
	}

	a.mu.Lock()
	a.consecErrors = 0
	a.mu.Unlock()

	a.refreshDisplays(ctx)
	if a.preemptiveSwitch(ctx) {
		return a.nextTurnDelay(), true
	}
	a.publishStatus()
	return a.nextTurnDelay(), true
}

// handleExhaustion reacts to a spent rate-limit window: rotate when another
// account exists, otherwise cool down and let the completion callback
// restart the loop.
func (a *Automation) handleExhaustion(ctx context.Context) (time.Duration, bool) {
	if a.session.Count() > 1 {
		a.log.Info("rate limit exhausted, switching accounts")
		if !a.switchAccount(ctx) {
			return 0, false
		}
		return a.nextTurnDelay(), true
	}

	started := a.limits.StartCooldown(ctx, func() {
		a.sink.SetStatus("cooldown complete, resuming", ports.SeverityInfo)
		a.scheduleIteration(0)
		a.publishStatus()
	})
	if !started {
		return a.cfg.CooldownPollDelay, true
	}
	a.publishStatus()
	return 0, false
}

// handleSendError applies the layered backoff ladder.
func (a *Automation) handleSendError(ctx context.Context, err error) (time.Duration, bool) {
	a.mu.Lock()
	a.consecErrors++
	errs := a.consecErrors
	a.mu.Unlock()
	a.log.Warn("chat turn failed",
		zap.Int("consecutive_errors", errs),
		zap.Error(err))

	if errs >= a.cfg.ErrorCeiling {
		a.mu.Lock()
		a.consecErrors = 0
		a.mu.Unlock()
		a.sink.SetStatus(
			fmt.Sprintf("repeated errors, backing off %s", domain.FormatSeconds(int(a.cfg.LongCooldown/time.Second))),
			ports.SeverityWarning)
		return a.cfg.LongCooldown, true
	}

	if domain.IsAuthStatus(err) && a.session.Count() > 1 {
		if !a.switchAccount(ctx) {
			return 0, false
		}
		return a.cfg.TransientBackoff, true
	}

	return a.cfg.ShortRetryDelay, true
}

// preemptiveSwitch rotates before the window is fully spent when another
// account is available.
func (a *Automation) preemptiveSwitch(ctx context.Context) bool {
	snapshot := a.limits.Snapshot()
	if snapshot.Limit == 0 || snapshot.Remaining > 1 || a.session.Count() <= 1 {
		return false
	}
	a.log.Info("rate limit nearly exhausted, switching early",
		zap.Int("remaining", snapshot.Remaining))
	return a.switchAccount(ctx)
}

// switchAccount rotates to the next credential and rebuilds the per-account
// state. Repeated failures stop the loop rather than spin forever.
func (a *Automation) switchAccount(ctx context.Context) bool {
	a.sink.SetStatus("switching account", ports.SeverityInfo)
	if _, err := a.session.Login(ctx, true); err != nil {
		a.mu.Lock()
		a.switchFailures++
		failures := a.switchFailures
		ceiling := a.cfg.ErrorCeiling
		a.mu.Unlock()
		a.log.Error("account switch failed",
			zap.Int("attempt", failures),
			zap.Error(err))
		if failures >= ceiling {
			a.log.Error("giving up on account rotation",
				zap.Error(domain.ErrSwitchExhausted))
			a.Stop("account-error")
			return false
		}
		// Keep the switch pending so the retry attempts it again.
		a.mu.Lock()
		a.switchDue = true
		a.mu.Unlock()
		a.scheduleIteration(a.cfg.ShortRetryDelay)
		return false
	}

	a.mu.Lock()
	a.switchFailures = 0
	a.consecErrors = 0
	a.mu.Unlock()

	a.showIdentity()
	a.chat.NewThread()
	a.refreshDisplays(ctx)
	a.scheduleSwitch()
	a.publishStatus()
	return true
}

func (a *Automation) showIdentity() {
	if id, ok := a.session.Identity(); ok {
		a.sink.ShowIdentity(id, a.session.Position(), a.session.Count())
	}
}

// refreshDisplays re-queries points and the rate window for the status
// panels. Failures here never interrupt the loop.
func (a *Automation) refreshDisplays(ctx context.Context) {
	if points, err := a.chat.Points(ctx); err == nil {
		a.sink.ShowPoints(points)
	}
	if snapshot, err := a.limits.Query(ctx); err == nil {
		a.sink.ShowRateLimit(snapshot)
	}
}

// publishStatus renders the loop state as one status line.
func (a *Automation) publishStatus() {
	a.mu.Lock()
	running := a.running
	paused := a.paused
	deadline := a.switchDeadline
	a.mu.Unlock()

	switch {
	case !running:
		return
	case a.limits.IsActive():
		remaining := a.limits.Snapshot().ResetSeconds
		a.sink.SetStatus("cooling down, "+domain.FormatSeconds(remaining)+" remaining", ports.SeverityWarning)
	case paused:
		a.sink.SetStatus("paused", ports.SeverityWarning)
	default:
		status := "running"
		if total := a.session.Count(); total > 1 {
			until := int(deadline.Sub(a.clock.Now()) / time.Second)
			if until < 0 {
				until = 0
			}
			status = fmt.Sprintf("running, account %d/%d, next switch in %s",
				a.session.Position()+1, total, domain.FormatSeconds(until))
		}
		a.sink.SetStatus(status, ports.SeveritySuccess)
	}
}

// nextTurnDelay draws a uniform delay in [MinTurnDelay, MaxTurnDelay).
func (a *Automation) nextTurnDelay() time.Duration {
	span := a.cfg.MaxTurnDelay - a.cfg.MinTurnDelay
	a.mu.Lock()
	jitter := time.Duration(a.rand.Int63n(int64(span)))
	a.mu.Unlock()
	return a.cfg.MinTurnDelay + jitter
}
