package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cleanloop/internal/app"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a clean controlled over MCP on stdio",
		Long: `Runs a clean like 'cleanloop run' while serving MCP tools on stdin/stdout:

  get_iteration_details   controller state, counters and thresholds
  get_iteration_summary   minor and major cycle summary log
  pause                   pause at the next major cycle boundary
  resume                  resume, optionally changing niter, cycleniter,
                          threshold, cyclethreshold, loopgain or per-mapper actions
  stop                    stop at the next boundary
  clean_complete          whether a stopping condition was reached

Logs go to stderr. The server keeps running after the clean finishes and
exits when the client disconnects; a client disconnecting early stops the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.appConfig()
			cfg.LogOutput = os.Stderr
			application, err := app.NewApplication(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result, err := application.Serve(ctx, os.Stdin, os.Stdout)
			if result != nil {
				fmt.Fprintf(os.Stderr, "run %s stopped: %s\n", result.RunID, result.StopCode)
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
