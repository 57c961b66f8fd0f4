package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "klokpilot",
		Short:         "klokpilot: automate Klok chat sessions across account pools",
		Long:          "klokpilot drives timed chat sessions against the Klok service: it verifies session-token pools, rotates accounts and proxies on failure, respects rate-limit windows, and shows it all on a terminal dashboard.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newVerifyCmd(),
		newAuthCmd(),
	)

	return rootCmd
}
