package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cleanloop/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInvalidConfig indicates config.yaml failed validation.
	ExitCodeInvalidConfig = 2
)

// rootCmd represents the base command for the cleanloop application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cleanloop",
	Short: "Run and inspect iterative image deconvolution",
	Long: `cleanloop drives the major/minor cycle loop of an iterative
deconvolution: it gathers partial images from its workers, runs minor
cycles until the cycle threshold or iteration budget is reached, scatters
the model back and repeats until the global stopping criteria are met.

Runs can be paused and steered through a control file, an interactive
prompt or MCP tools, and every run's summary log is kept for later
inspection with 'cleanloop summary'.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cleanloop version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		var configErrs *config.ConfigurationErrorCollection
		if errors.As(err, &configErrs) {
			fmt.Fprintln(os.Stderr, configErrs.GetDetailedReport())
		}
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var configErrs *config.ConfigurationErrorCollection
	if errors.As(err, &configErrs) {
		return ExitCodeInvalidConfig
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSummaryCmd())
}
