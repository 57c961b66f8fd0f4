package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nebrix/klokpilot/internal/adapters/dashboard"
	"github.com/nebrix/klokpilot/internal/application"
)

func newRunCmd() *cobra.Command {
	var autostart bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Verify the token pool and open the automation dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// Console logging stays off; the TUI owns the terminal.
			a, err := wireApp(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()

			valid, err := verifyWithSpinner(ctx, cmd, a)
			if err != nil {
				return err
			}
			if valid == 0 {
				valid, err = authenticateWallets(ctx, cmd, a)
				if err != nil {
					return err
				}
				if valid == 0 {
					return fmt.Errorf("no valid session tokens and no wallets could be authenticated")
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d account(s) ready\n", valid)

			var auto *application.Automation
			ui := dashboard.New(dashboard.Actions{
				Start: func() {
					if err := auto.Start(ctx); err != nil {
						a.log.Error("automation start failed", zap.Error(err))
					}
				},
				Pause:  func() { auto.Pause() },
				Resume: func() { auto.Resume() },
				Switch: func() { auto.SwitchNow() },
			})
			auto = application.NewAutomation(
				a.session, a.chat, a.limits, a.prompts, ui, nil,
				a.automationConfig(), a.log,
			)

			if autostart {
				go func() {
					if err := auto.Start(ctx); err != nil {
						a.log.Error("automation start failed", zap.Error(err))
					}
				}()
			}

			defer auto.Stop("requested")
			return ui.Run()
		},
	}

	cmd.Flags().BoolVar(&autostart, "start", false, "Start the automation loop immediately")

	return cmd
}

// authenticateWallets trades priv.txt keys for fresh session tokens when the
// stored pool came up empty.
func authenticateWallets(ctx context.Context, cmd *cobra.Command, a *app) (int, error) {
	keys, err := a.keys.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load private keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "no valid tokens, authenticating %d wallet(s)...\n", len(keys))
	tokens := a.auth.AuthenticateAll(ctx, keys)
	if len(tokens) == 0 {
		return 0, nil
	}
	if err := a.tokens.Save(ctx, tokens); err != nil {
		return 0, fmt.Errorf("persist wallet session tokens: %w", err)
	}
	return a.session.LoadAndVerifyAll(ctx)
}
