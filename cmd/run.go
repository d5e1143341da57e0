package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cleanloop/internal/app"
)

// runFlags holds the flags shared by run and serve.
type runFlags struct {
	configPath    string
	debug         bool
	quiet         bool
	interactive   bool
	metricsListen string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config-path", "", "Configuration directory holding config.yaml (default ~/.config/cleanloop)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Suppress log output and progress")
	cmd.Flags().BoolVar(&f.interactive, "interactive", false, "Pause at every major cycle boundary")
	cmd.Flags().StringVar(&f.metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address while the run lasts")
}

func (f *runFlags) appConfig() *app.Config {
	cfg := app.NewConfig(f.debug, f.quiet, f.configPath)
	cfg.Interactive = f.interactive
	cfg.MetricsListen = f.metricsListen
	cfg.Version = rootCmd.Version
	return cfg
}

// newRunCmd creates the run command.
func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a clean",
		Long: `Runs a clean over the images in config.yaml with the built-in synthetic
gridder and Hogbom kernel.

The run can be steered while it works:
  - with --interactive it pauses at every major cycle boundary and opens a
    prompt (continue, status, stop, parameter changes)
  - writing 'action: pause|continue|stop' to the control file set in
    config.yaml pauses, resumes or stops it
  - Ctrl+C stops after the current iteration, a second Ctrl+C aborts

The summary log is saved when the run ends; list it with 'cleanloop summary'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.NewApplication(flags.appConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result, err := application.Run(ctx)
			if result != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s stopped: %s after %d iterations (peak residual %.4g, model flux %.4g)\n",
					result.RunID, result.StopCode, result.Details.TotalIterationsDone,
					result.Details.PeakResidual, result.Details.ModelFlux)
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}
