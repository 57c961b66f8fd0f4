package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

// fakeClock is a virtual clock. Advance moves time forward and fires due
// timers in order; callbacks run outside the lock so they may arm new
// timers.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Sleep records the requested duration and returns immediately.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	for {
		t := c.popDue()
		if t == nil {
			return
		}
		t.fn()
	}
}

func (c *fakeClock) popDue() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due *fakeTimer
	for _, t := range c.timers {
		if t.fired || t.stopped || t.when.After(c.now) {
			continue
		}
		if due == nil || t.when.Before(due.when) {
			due = t
		}
	}
	if due != nil {
		due.fired = true
	}
	return due
}

// pendingTimers counts timers that are armed but not yet fired or stopped.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	fired   bool
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// instantTimer satisfies the retry library's timer interface, firing
// immediately while recording every requested wait.
type instantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	ch    chan time.Time
}

func newInstantTimer() *instantTimer {
	return &instantTimer{ch: make(chan time.Time, 1)}
}

func (t *instantTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.waits = append(t.waits, d)
	t.mu.Unlock()
	t.ch <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.ch }

func (t *instantTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

// fakeAPI scripts the remote chat service per call. Nil functions return
// zero values.
type fakeAPI struct {
	mu sync.Mutex

	identityFn func(token string) (domain.Identity, error)
	pointsFn   func(token string) (domain.Points, error)
	rateFn     func(token string) (domain.RateLimitSnapshot, error)
	modelsFn   func(token string) ([]domain.Model, error)
	submitFn   func(token string, thread domain.Thread, model string) (string, error)

	identityCalls int
	pointsCalls   int
	rateCalls     int
	modelsCalls   int
	submitCalls   int
	proxiesSeen   []string
}

var _ ports.ChatAPI = (*fakeAPI)(nil)

func (f *fakeAPI) record(proxy string) {
	f.proxiesSeen = append(f.proxiesSeen, proxy)
}

func (f *fakeAPI) FetchIdentity(_ context.Context, token, proxy string) (domain.Identity, error) {
	f.mu.Lock()
	f.identityCalls++
	f.record(proxy)
	fn := f.identityFn
	f.mu.Unlock()
	if fn == nil {
		return domain.Identity{UserID: "user-" + token}, nil
	}
	return fn(token)
}

func (f *fakeAPI) FetchPoints(_ context.Context, token, proxy string) (domain.Points, error) {
	f.mu.Lock()
	f.pointsCalls++
	f.record(proxy)
	fn := f.pointsFn
	f.mu.Unlock()
	if fn == nil {
		return domain.Points{}, nil
	}
	return fn(token)
}

func (f *fakeAPI) FetchRateLimit(_ context.Context, token, proxy string) (domain.RateLimitSnapshot, error) {
	f.mu.Lock()
	f.rateCalls++
	f.record(proxy)
	fn := f.rateFn
	f.mu.Unlock()
	if fn == nil {
		return domain.RateLimitSnapshot{Limit: 50, Remaining: 50}, nil
	}
	return fn(token)
}

func (f *fakeAPI) ListModels(_ context.Context, token, proxy string) ([]domain.Model, error) {
	f.mu.Lock()
	f.modelsCalls++
	f.record(proxy)
	fn := f.modelsFn
	f.mu.Unlock()
	if fn == nil {
		return []domain.Model{{ID: 1, Name: "gpt-open", Display: "GPT Open", Active: true}}, nil
	}
	return fn(token)
}

func (f *fakeAPI) SubmitTurn(_ context.Context, token, proxy string, thread domain.Thread, model string) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	f.record(proxy)
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return "ok", nil
	}
	return fn(token, thread, model)
}

// memStore is an in-memory ListStore.
type memStore struct {
	mu      sync.Mutex
	entries []string
	loadErr error
	saved   [][]string
}

var _ ports.ListStore = (*memStore)(nil)

func (m *memStore) Load(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]string(nil), m.entries...), nil
}

func (m *memStore) Save(_ context.Context, entries []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]string(nil), entries...)
	m.saved = append(m.saved, append([]string(nil), entries...))
	return nil
}

// fixedPrompts always returns the same prompt.
type fixedPrompts struct{ prompt string }

func (p fixedPrompts) NextPrompt(context.Context) string { return p.prompt }

// recordingSink captures everything published to the display.
type recordingSink struct {
	mu         sync.Mutex
	statuses   []string
	severities []ports.Severity
	identities []domain.Identity
	points     []domain.Points
	snapshots  []domain.RateLimitSnapshot
}

var _ ports.StatusSink = (*recordingSink)(nil)

func (r *recordingSink) SetStatus(message string, severity ports.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, message)
	r.severities = append(r.severities, severity)
}

func (r *recordingSink) ShowIdentity(identity domain.Identity, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities = append(r.identities, identity)
}

func (r *recordingSink) ShowPoints(points domain.Points) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, points)
}

func (r *recordingSink) ShowRateLimit(snapshot domain.RateLimitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
}

func (r *recordingSink) ShowModels([]domain.Model) {}

func (r *recordingSink) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

func (r *recordingSink) Identities() []domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Identity(nil), r.identities...)
}

// newTestExecutor builds an executor with an instant retry timer.
func newTestExecutor(proxies []string, policy RetryPolicy) (*Executor, *instantTimer) {
	timer := newInstantTimer()
	exec := NewExecutor(domain.NewRing(proxies), policy, zap.NewNop())
	exec.timer = timer
	return exec, timer
}
