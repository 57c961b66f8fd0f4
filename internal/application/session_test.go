package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/domain"
)

func newTestSession(api *fakeAPI, store *memStore, concurrency int) *SessionManager {
	exec, _ := newTestExecutor(nil, DefaultRetryPolicy())
	s := NewSessionManager(api, exec, store, zap.NewNop(), concurrency)
	exec.BindCredentials(s)
	return s
}

func TestLoadAndVerifyAllKeepsValidTokensInOrder(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		identityFn: func(token string) (domain.Identity, error) {
			if token == "t2" {
				return domain.Identity{}, &domain.StatusError{Code: 401}
			}
			return domain.Identity{UserID: "user-" + token}, nil
		},
	}
	store := &memStore{entries: []string{"t1", "t2", "t3", "t4"}}
	s := newTestSession(api, store, 4)

	count, err := s.LoadAndVerifyAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"t1", "t3", "t4"}, store.entries)
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, "t1", s.CurrentToken(context.Background()))
	assert.Zero(t, s.Position())
}

func TestLoadAndVerifyAllEmptyStore(t *testing.T) {
	t.Parallel()

	s := newTestSession(&fakeAPI{}, &memStore{}, 4)

	count, err := s.LoadAndVerifyAll(context.Background())

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, s.Count())
}

func TestLoadAndVerifyAllBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	active, peak := 0, 0
	api := &fakeAPI{
		identityFn: func(token string) (domain.Identity, error) {
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return domain.Identity{}, nil
		},
	}
	tokens := make([]string, 12)
	for i := range tokens {
		tokens[i] = "token-" + string(rune('a'+i))
	}
	store := &memStore{entries: tokens}
	s := newTestSession(api, store, 3)

	count, err := s.LoadAndVerifyAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, len(tokens), count)
	assert.LessOrEqual(t, peak, 3)
}

func TestLoginNoCredentials(t *testing.T) {
	t.Parallel()

	s := newTestSession(&fakeAPI{}, &memStore{}, 1)

	_, err := s.Login(context.Background(), false)

	require.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestLoginTriesEachTokenOncePerCycle(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		identityFn: func(string) (domain.Identity, error) {
			return domain.Identity{}, &domain.StatusError{Code: 401}
		},
	}
	store := &memStore{entries: []string{"t1", "t2", "t3"}}
	s := newTestSession(api, store, 1)

	_, err := s.Login(context.Background(), false)

	require.ErrorIs(t, err, domain.ErrCredentialsExhausted)
	assert.Equal(t, 3, api.identityCalls)
}

func TestLoginSkipsRejectedToken(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		identityFn: func(token string) (domain.Identity, error) {
			if token == "t1" {
				return domain.Identity{}, &domain.StatusError{Code: 403}
			}
			return domain.Identity{UserID: "user-" + token}, nil
		},
	}
	store := &memStore{entries: []string{"t1", "t2"}}
	s := newTestSession(api, store, 1)

	identity, err := s.Login(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, "user-t2", identity.UserID)
	assert.Equal(t, "t2", s.CurrentToken(context.Background()))
	cached, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, identity, cached)
}

func TestLoginSingleTokenRejected(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		identityFn: func(string) (domain.Identity, error) {
			return domain.Identity{}, &domain.StatusError{Code: 401}
		},
	}
	store := &memStore{entries: []string{"only"}}
	s := newTestSession(api, store, 1)

	_, err := s.Login(context.Background(), false)

	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCredentialsExhausted)
	assert.True(t, domain.IsAuthStatus(err))
	assert.Equal(t, 1, api.identityCalls)
}

func TestLoginForceRotateAdvancesFirst(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{}
	store := &memStore{entries: []string{"t1", "t2", "t3"}}
	s := newTestSession(api, store, 1)

	first, err := s.Login(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "user-t1", first.UserID)

	second, err := s.Login(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "user-t2", second.UserID)
	assert.Equal(t, 1, s.Position())
}

func TestRotateDropsCachedIdentity(t *testing.T) {
	t.Parallel()

	store := &memStore{entries: []string{"t1", "t2"}}
	s := newTestSession(&fakeAPI{}, store, 1)

	_, err := s.Login(context.Background(), false)
	require.NoError(t, err)
	_, ok := s.Identity()
	require.True(t, ok)

	s.Rotate()

	_, ok = s.Identity()
	assert.False(t, ok)
	assert.Equal(t, "t2", s.CurrentToken(context.Background()))
}
