package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify every stored session token and drop the dead ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := wireApp(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()

			valid, err := verifyWithSpinner(ctx, cmd, a)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d valid session token(s) retained\n", valid)
			return nil
		},
	}
}

type verifyDoneMsg struct {
	valid int
	err   error
}

type verifySpinnerModel struct {
	spinner spinner.Model
	label   string
	verify  tea.Cmd
	valid   int
	err     error
	done    bool
}

func newVerifySpinnerModel(label string, verify tea.Cmd) verifySpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return verifySpinnerModel{
		spinner: s,
		label:   label,
		verify:  verify,
	}
}

func (m verifySpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.verify)
}

func (m verifySpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case verifyDoneMsg:
		m.done = true
		m.valid = msg.valid
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m verifySpinnerModel) View() string {
	if m.done {
		return ""
	}

	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

func verifyWithSpinner(ctx context.Context, cmd *cobra.Command, a *app) (int, error) {
	return runVerifySpinner(ctx, cmd.OutOrStdout(), func(ctx context.Context) (int, error) {
		return a.session.LoadAndVerifyAll(ctx)
	})
}

func runVerifySpinner(ctx context.Context, output io.Writer, verify func(context.Context) (int, error)) (int, error) {
	verifyCmd := func() tea.Msg {
		valid, err := verify(ctx)
		return verifyDoneMsg{valid: valid, err: err}
	}

	p := tea.NewProgram(
		newVerifySpinnerModel("Verifying session tokens...", verifyCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return 0, err
	}

	result, ok := finalModel.(verifySpinnerModel)
	if !ok {
		return 0, fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.valid, result.err
}
