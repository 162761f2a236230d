package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newRetryCmd())
}

func newRetryCmd() *cobra.Command {
	var runID string

	retryCmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-upload the files that failed in a previous run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			showHeader(cfg)

			app, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			defer slog.Info("Bye!")
			return app.Retry(cmd.Context(), runID)
		},
	}

	retryCmd.Flags().StringVar(&runID, "run", "", "Journal run to retry (default: most recent)")

	return retryCmd
}
