package application

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

const DefaultVerifyConcurrency = 20

// TokenSource yields the session token to attach to outbound calls.
type TokenSource interface {
	CurrentToken(ctx context.Context) string
}

// SessionManager owns the session-token pool: bulk verification at startup,
// login with rotation on rejection, and the cached identity of the current
// account.
type SessionManager struct {
	api               ports.ChatAPI
	exec              *Executor
	store             ports.ListStore
	tokens            *domain.Ring
	log               *zap.Logger
	verifyConcurrency int

	mu       sync.Mutex
	identity *domain.Identity
	selected bool
}

var (
	_ CredentialRotator = (*SessionManager)(nil)
	_ TokenSource       = (*SessionManager)(nil)
)

func NewSessionManager(api ports.ChatAPI, exec *Executor, store ports.ListStore, log *zap.Logger, verifyConcurrency int) *SessionManager {
	if verifyConcurrency <= 0 {
		verifyConcurrency = DefaultVerifyConcurrency
	}
	return &SessionManager{
		api:               api,
		exec:              exec,
		store:             store,
		tokens:            domain.NewRing(nil),
		log:               log,
		verifyConcurrency: verifyConcurrency,
	}
}

// LoadAndVerifyAll reads every candidate token from storage, verifies them
// concurrently under the configured worker bound, keeps only the valid ones
// in their original order, persists the retained set back, and resets the
// cursor. Returns the retained count.
func (s *SessionManager) LoadAndVerifyAll(ctx context.Context) (int, error) {
	candidates, err := s.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load session tokens: %w", err)
	}

	if len(candidates) == 0 {
		s.log.Warn("no session tokens found to verify")
		s.reset(nil)
		return 0, nil
	}

	s.log.Info("verifying session tokens",
		zap.Int("candidates", len(candidates)),
		zap.Int("concurrency", s.verifyConcurrency))

	valid := make([]bool, len(candidates))
	sem := make(chan struct{}, s.verifyConcurrency)
	var wg sync.WaitGroup
	for i, token := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, token string) {
			defer wg.Done()
			defer func() { <-sem }()
			valid[i] = s.Verify(ctx, token)
		}(i, token)
	}
	wg.Wait()

	retained := make([]string, 0, len(candidates))
	for i, token := range candidates {
		if valid[i] {
			retained = append(retained, token)
		}
	}

	if err := s.store.Save(ctx, retained); err != nil {
		return 0, fmt.Errorf("persist verified session tokens: %w", err)
	}
	s.reset(retained)

	s.log.Info("session token verification complete",
		zap.Int("valid", len(retained)),
		zap.Int("candidates", len(candidates)))

	return len(retained), nil
}

// Verify issues one identity check for a specific token. It never returns an
// error: any failure counts as invalid.
func (s *SessionManager) Verify(ctx context.Context, token string) bool {
	err := s.exec.ExecutePinned(ctx, "verify session token", func(ctx context.Context) error {
		_, err := s.api.FetchIdentity(ctx, token, s.exec.CurrentProxy())
		return err
	})
	if err != nil {
		s.log.Warn("session token failed verification",
			zap.String("token", domain.RedactToken(token)),
			zap.Error(err))
		return false
	}
	return true
}

// Login selects a session token and validates it against the identity
// endpoint, caching the identity on success. With forceRotate, or when no
// token has been selected yet for this process, the selection moves first.
// Each token is tried at most once per login cycle; a full lap without
// success fails with ErrCredentialsExhausted.
func (s *SessionManager) Login(ctx context.Context, forceRotate bool) (domain.Identity, error) {
	s.ensureLoaded(ctx)
	if s.tokens.Len() == 0 {
		return domain.Identity{}, domain.ErrNoCredentials
	}

	s.mu.Lock()
	alreadySelected := s.selected
	s.mu.Unlock()
	if forceRotate && alreadySelected {
		s.Rotate()
	}

	var lastErr error
	for attempt := 0; attempt < s.tokens.Len(); attempt++ {
		token, _ := s.tokens.Current()
		identity, err := s.fetchIdentity(ctx, token)
		if err == nil {
			s.mu.Lock()
			s.identity = &identity
			s.selected = true
			s.mu.Unlock()
			s.log.Info("login successful",
				zap.String("user", identity.UserID),
				zap.Int("account", s.tokens.Position()+1),
				zap.Int("total", s.tokens.Len()))
			return identity, nil
		}

		lastErr = err
		if s.tokens.Len() <= 1 {
			return domain.Identity{}, fmt.Errorf("login: %w", err)
		}
		s.log.Warn("session token rejected, trying next",
			zap.String("token", domain.RedactToken(token)),
			zap.Error(err))
		s.Rotate()
	}

	return domain.Identity{}, fmt.Errorf("%w: last error: %v", domain.ErrCredentialsExhausted, lastErr)
}

// CurrentToken returns the token under the cursor, lazily loading the pool
// from storage on first use. Empty when no tokens are configured.
func (s *SessionManager) CurrentToken(ctx context.Context) string {
	s.ensureLoaded(ctx)
	token, _ := s.tokens.Current()
	return token
}

// Rotate advances to the next session token and drops the cached identity:
// a credential switch invalidates everything derived from the old one.
func (s *SessionManager) Rotate() {
	_, ok := s.tokens.Advance()
	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
	if ok {
		s.log.Info("switched session token",
			zap.Int("account", s.tokens.Position()+1),
			zap.Int("total", s.tokens.Len()))
	}
}

func (s *SessionManager) Count() int {
	return s.tokens.Len()
}

// Position returns the zero-based index of the current token.
func (s *SessionManager) Position() int {
	return s.tokens.Position()
}

// Identity returns the cached identity of the current token, if logged in.
func (s *SessionManager) Identity() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return domain.Identity{}, false
	}
	return *s.identity, true
}

func (s *SessionManager) fetchIdentity(ctx context.Context, token string) (domain.Identity, error) {
	var identity domain.Identity
	err := s.exec.ExecutePinned(ctx, "fetch identity", func(ctx context.Context) error {
		var err error
		identity, err = s.api.FetchIdentity(ctx, token, s.exec.CurrentProxy())
		return err
	})
	return identity, err
}

func (s *SessionManager) ensureLoaded(ctx context.Context) {
	if s.tokens.Len() > 0 {
		return
	}
	entries, err := s.store.Load(ctx)
	if err != nil {
		s.log.Warn("loading session tokens failed", zap.Error(err))
		return
	}
	if len(entries) > 0 {
		s.reset(entries)
	}
}

func (s *SessionManager) reset(entries []string) {
	s.tokens.Replace(entries)
	s.mu.Lock()
	s.identity = nil
	s.selected = false
	s.mu.Unlock()
}
