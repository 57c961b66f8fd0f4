package dashboard

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

func TestModelRendersAccountAndUsage(t *testing.T) {
	t.Parallel()

	m := newModel(Actions{})

	next, _ := m.Update(identityMsg{
		identity: domain.Identity{UserID: "u-42", AuthProvider: "wallet"},
		position: 1,
		total:    3,
	})
	next, _ = next.Update(pointsMsg{points: domain.Points{Total: 120, Inference: 100, Referral: 20}})
	next, _ = next.Update(rateLimitMsg{snapshot: domain.RateLimitSnapshot{Limit: 50, CurrentUsage: 12, ResetSeconds: 200}})
	next, _ = next.Update(statusMsg{text: "running, next switch in 9m 40s", severity: ports.SeveritySuccess})

	view := next.View()
	assert.Contains(t, view, "u-42")
	assert.Contains(t, view, "account 2/3")
	assert.Contains(t, view, "inference 100.0")
	assert.Contains(t, view, "12/50 used")
	assert.Contains(t, view, "running, next switch in 9m 40s")
}

func TestModelShowsModelTableOnlyWhenPopulated(t *testing.T) {
	t.Parallel()

	m := newModel(Actions{})
	assert.NotContains(t, m.View(), "Display")

	next, _ := m.Update(modelsMsg{models: []domain.Model{
		{Name: "workhorse", Display: "Workhorse", Active: true},
	}})

	view := next.View()
	assert.Contains(t, view, "workhorse")
}

func TestModelQuitKeys(t *testing.T) {
	t.Parallel()

	quitKeys := []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
	}
	for _, key := range quitKeys {
		m := newModel(Actions{})
		_, cmd := m.Update(key)
		require.NotNil(t, cmd, key.String())
		assert.Equal(t, tea.Quit(), cmd(), key.String())
	}
}

func TestModelActionKeysInvokeCallbacks(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	m := newModel(Actions{Start: func() { started <- struct{}{} }})

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})

	<-started
}
