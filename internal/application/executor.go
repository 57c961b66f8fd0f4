package application

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
)

// RetryPolicy bounds the transient-failure retry chain of the executor.
type RetryPolicy struct {
	// MaxRetries is the number of delayed retries after the initial attempt.
	MaxRetries uint64
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// Multiplier grows the wait exponentially between retries.
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 2 * time.Second,
		Multiplier:   1.5,
	}
}

// CredentialRotator is the slice of the session manager the executor may
// touch: pool size and cursor advancement.
type CredentialRotator interface {
	Count() int
	Rotate()
}

// Executor wraps one logical outbound call with the failure policy:
//
//   - 401/403: rotate the session token and rerun the whole call with a
//     fresh retry budget, at most once per alternate token in the pool.
//   - network faults and 5xx: rotate the outbound proxy, wait
//     InitialDelay×Multiplier^attempt, and retry up to MaxRetries times.
//   - anything else: propagate immediately.
//
// The two failure classes use disjoint remediation axes: auth failures are
// credential-scoped, transient failures are environment-scoped.
type Executor struct {
	proxies *domain.Ring
	policy  RetryPolicy
	log     *zap.Logger
	creds   CredentialRotator
	timer   backoff.Timer
}

func NewExecutor(proxies *domain.Ring, policy RetryPolicy, log *zap.Logger) *Executor {
	if proxies == nil {
		proxies = domain.NewRing(nil)
	}
	if policy.MaxRetries == 0 {
		policy = DefaultRetryPolicy()
	}
	return &Executor{
		proxies: proxies,
		policy:  policy,
		log:     log,
	}
}

// BindCredentials wires the session manager in after construction; the two
// depend on each other (login runs through the executor, auth failures rotate
// through the session manager).
func (e *Executor) BindCredentials(rotator CredentialRotator) {
	e.creds = rotator
}

// CurrentProxy returns the proxy to attach to the next attempt; "" means a
// direct connection, which is a valid state when no proxies are configured.
func (e *Executor) CurrentProxy() string {
	proxy, _ := e.proxies.Current()
	return proxy
}

// RotateProxy advances the proxy cursor. Safe on an empty pool.
func (e *Executor) RotateProxy() string {
	proxy, ok := e.proxies.Advance()
	if !ok {
		e.log.Info("no proxies available, staying on direct connection")
		return ""
	}
	e.log.Info("switched proxy", zap.String("proxy", proxy))
	return proxy
}

// Execute runs fn under the full policy, including token rotation on auth
// failures. fn must be idempotent and must read the current token and proxy
// on every invocation.
func (e *Executor) Execute(ctx context.Context, name string, fn func(context.Context) error) error {
	rotations := 0
	for {
		err := e.retryTransient(ctx, name, fn)
		if err == nil {
			return nil
		}
		if domain.IsAuthStatus(err) && e.creds != nil && e.creds.Count() > 1 && rotations < e.creds.Count()-1 {
			rotations++
			e.log.Warn("auth failure, switching session token",
				zap.String("request", name),
				zap.Int("rotation", rotations),
				zap.Error(err))
			e.creds.Rotate()
			continue
		}
		return err
	}
}

// ExecutePinned runs fn under the transient backoff policy only, leaving the
// credential cursor alone. Used for calls bound to one specific token, such
// as bulk verification.
func (e *Executor) ExecutePinned(ctx context.Context, name string, fn func(context.Context) error) error {
	return e.retryTransient(ctx, name, fn)
}

func (e *Executor) retryTransient(ctx context.Context, name string, fn func(context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			e.log.Debug("request succeeded", zap.String("request", name), zap.Int("attempt", attempt))
			return nil
		}
		e.log.Warn("request attempt failed",
			zap.String("request", name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		e.RotateProxy()
		e.log.Info("retrying after backoff",
			zap.String("request", name),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), e.policy.MaxRetries), ctx)
	return backoff.RetryNotifyWithTimer(operation, policy, notify, e.timer)
}

func (e *Executor) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.policy.InitialDelay
	b.Multiplier = e.policy.Multiplier
	// The delay schedule is part of the retry contract; no jitter.
	b.RandomizationFactor = 0
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
