package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate wallet private keys and store the session tokens",
		Long:  "auth signs the service login message with each private key from the key file and appends the resulting session tokens to the token pool.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := wireApp(ctx, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()

			keys, err := a.keys.Load(ctx)
			if err != nil {
				return fmt.Errorf("load private keys: %w", err)
			}
			if len(keys) == 0 {
				return fmt.Errorf("no private keys found in %s", a.cfg.Files.PrivateKeys)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "authenticating %d wallet(s)...\n", len(keys))
			fresh := a.auth.AuthenticateAll(ctx, keys)
			if len(fresh) == 0 {
				return fmt.Errorf("no wallet could be authenticated")
			}

			existing, err := a.tokens.Load(ctx)
			if err != nil {
				return fmt.Errorf("load session tokens: %w", err)
			}
			if err := a.tokens.Save(ctx, append(existing, fresh...)); err != nil {
				return fmt.Errorf("persist session tokens: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d wallet(s) authenticated, %d token(s) stored\n",
				len(fresh), len(keys), len(existing)+len(fresh))
			return nil
		},
	}
}
