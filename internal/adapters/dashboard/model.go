// Package dashboard renders the automation loop as a live terminal UI and
// feeds operator keystrokes back into it.
package dashboard

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nebrix/klokpilot/internal/domain"
	"github.com/nebrix/klokpilot/internal/ports"
)

// Actions are the loop controls bound to keystrokes. Callbacks may block, so
// the model invokes them on their own goroutines.
type Actions struct {
	Start  func()
	Pause  func()
	Resume func()
	Switch func()
}

type statusMsg struct {
	text     string
	severity ports.Severity
}

type identityMsg struct {
	identity domain.Identity
	position int
	total    int
}

type pointsMsg struct{ points domain.Points }

type rateLimitMsg struct{ snapshot domain.RateLimitSnapshot }

type modelsMsg struct{ models []domain.Model }

// Dashboard owns the bubbletea program and doubles as the automation's
// status sink: every Show* call turns into a message on the program.
type Dashboard struct {
	program *tea.Program
}

var _ ports.StatusSink = (*Dashboard)(nil)

func New(actions Actions) *Dashboard {
	d := &Dashboard{}
	d.program = tea.NewProgram(newModel(actions), tea.WithAltScreen())
	return d
}

// Run blocks until the operator quits.
func (d *Dashboard) Run() error {
	_, err := d.program.Run()
	return err
}

func (d *Dashboard) SetStatus(message string, severity ports.Severity) {
	d.program.Send(statusMsg{text: message, severity: severity})
}

func (d *Dashboard) ShowIdentity(identity domain.Identity, position, total int) {
	d.program.Send(identityMsg{identity: identity, position: position, total: total})
}

func (d *Dashboard) ShowPoints(points domain.Points) {
	d.program.Send(pointsMsg{points: points})
}

func (d *Dashboard) ShowRateLimit(snapshot domain.RateLimitSnapshot) {
	d.program.Send(rateLimitMsg{snapshot: snapshot})
}

func (d *Dashboard) ShowModels(models []domain.Model) {
	d.program.Send(modelsMsg{models: models})
}

type model struct {
	actions Actions
	styles  styles

	status   string
	severity ports.Severity
	identity *domain.Identity
	position int
	total    int
	points   *domain.Points
	snapshot *domain.RateLimitSnapshot
	models   table.Model
	haveRows bool
}

func newModel(actions Actions) model {
	columns := []table.Column{
		{Title: "Model", Width: 24},
		{Title: "Display", Width: 24},
		{Title: "Pro", Width: 5},
		{Title: "Active", Width: 8},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithHeight(6),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).Foreground(lipgloss.Color("39"))
	s.Selected = s.Selected.Foreground(lipgloss.Color("252"))
	t.SetStyles(s)

	return model{
		actions:  actions,
		styles:   newStyles(),
		status:   "idle, press s to start",
		severity: ports.SeverityInfo,
		models:   t,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "s":
			if m.actions.Start != nil {
				go m.actions.Start()
			}
		case "p":
			if m.actions.Pause != nil {
				go m.actions.Pause()
			}
		case "r":
			if m.actions.Resume != nil {
				go m.actions.Resume()
			}
		case "n":
			if m.actions.Switch != nil {
				go m.actions.Switch()
			}
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil
	case statusMsg:
		m.status = msg.text
		m.severity = msg.severity
		return m, nil
	case identityMsg:
		identity := msg.identity
		m.identity = &identity
		m.position = msg.position
		m.total = msg.total
		return m, nil
	case pointsMsg:
		points := msg.points
		m.points = &points
		return m, nil
	case rateLimitMsg:
		snapshot := msg.snapshot
		m.snapshot = &snapshot
		return m, nil
	case modelsMsg:
		rows := make([]table.Row, 0, len(msg.models))
		for _, mdl := range msg.models {
			rows = append(rows, table.Row{
				mdl.Name,
				mdl.Display,
				yesNo(mdl.IsPro),
				yesNo(mdl.Active),
			})
		}
		m.models.SetRows(rows)
		m.haveRows = len(rows) > 0
		return m, nil
	default:
		return m, nil
	}
}

func (m model) View() string {
	s := m.styles

	header := s.title.Render("klokpilot")
	status := s.panel.Render(s.severity(string(m.severity)).Render(m.status))

	account := "no account selected"
	if m.identity != nil {
		account = fmt.Sprintf("%s (%s)  account %d/%d",
			m.identity.UserID, m.identity.AuthProvider, m.position+1, m.total)
	}
	accountPanel := s.panel.Render(
		s.label.Render("Account  ") + s.value.Render(account),
	)

	points := "points unknown"
	if m.points != nil {
		points = fmt.Sprintf("total %.1f  inference %.1f  referral %.1f",
			m.points.Total, m.points.Inference, m.points.Referral)
	}
	limits := "rate limit unknown"
	if m.snapshot != nil {
		limits = fmt.Sprintf("%d/%d used  resets in %s",
			m.snapshot.CurrentUsage, m.snapshot.Limit,
			domain.FormatSeconds(m.snapshot.ResetSeconds))
	}
	usagePanel := s.panel.Render(
		s.label.Render("Points   ") + s.value.Render(points) + "\n" +
			s.label.Render("Limits   ") + s.value.Render(limits),
	)

	view := lipgloss.JoinVertical(lipgloss.Left, header, status, accountPanel, usagePanel)
	if m.haveRows {
		view = lipgloss.JoinVertical(lipgloss.Left, view, s.panel.Render(m.models.View()))
	}
	help := s.help.Render("s start  p pause  r resume  n switch account  q quit")
	return lipgloss.JoinVertical(lipgloss.Left, view, help) + "\n"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
