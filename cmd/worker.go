package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/news-digest/internal/logging"
	"github.com/JakeFAU/news-digest/internal/resolver"
)

// newWorkerCmd is the child side of resolver.ProcessWorker. It reads one
// request from stdin and writes one response to stdout.
func newWorkerCmd() *cobra.Command {
	var (
		chromePath string
		noSandbox  bool
		logLevel   string
	)
	cmd := &cobra.Command{
		Use:    resolver.WorkerCommand,
		Short:  "Resolve one wrapped link in headless Chrome (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		// The parent passes everything the child needs on the command line.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(false, logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			renderer := resolver.NewChromedpRenderer(resolver.ChromedpConfig{
				ExecPath:  chromePath,
				NoSandbox: noSandbox,
			})
			return resolver.ServeWorker(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), renderer, logger.Named("worker"))
		},
	}
	cmd.Flags().StringVar(&chromePath, "chrome-path", "", "Chrome or Chromium executable")
	cmd.Flags().BoolVar(&noSandbox, "no-sandbox", false, "launch Chrome without its sandbox")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level")
	return cmd
}
