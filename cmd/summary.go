package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"cleanloop/internal/api"
	"cleanloop/internal/config"
	"cleanloop/internal/formatting"
	"cleanloop/internal/summary"
	"cleanloop/pkg/logging"
)

type summaryOptions struct {
	configPath string
	output     string
	quiet      bool
	color      bool
	delete     bool
	debug      bool
}

// newSummaryCmd creates the summary command.
func newSummaryCmd() *cobra.Command {
	opts := &summaryOptions{}
	cmd := &cobra.Command{
		Use:   "summary [RUN_ID]",
		Short: "List recorded runs or show one run's summary log",
		Long: `Without arguments, lists every recorded run, newest first.
With a run ID (or a unique prefix of one), shows the run's parameters,
final state and its major and minor cycle summary log.

Examples:
  cleanloop summary
  cleanloop summary 3f2a91c4
  cleanloop summary 3f2a91c4 -o yaml
  cleanloop summary 3f2a91c4 --delete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(cmd.OutOrStdout(), opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config-path", "", "Configuration directory holding config.yaml (default ~/.config/cleanloop)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, console, json, yaml)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Leave out the minor cycle log")
	cmd.Flags().BoolVar(&opts.color, "color", false, "Colour table output")
	cmd.Flags().BoolVar(&opts.delete, "delete", false, "Delete the given run instead of showing it")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	return cmd
}

func runSummary(out io.Writer, opts *summaryOptions, args []string) error {
	level := logging.LevelInfo
	var logOutput io.Writer = io.Discard
	if opts.debug {
		level = logging.LevelDebug
		logOutput = out
	}
	logging.InitForCLI(level, logOutput)

	format, err := formatting.ParseFormat(opts.output)
	if err != nil {
		return err
	}

	store, err := openSummaryStore(opts.configPath)
	if err != nil {
		return err
	}

	if opts.delete {
		if len(args) == 0 {
			return api.NewInvalidParameterError("RUN_ID", "", "--delete needs a run ID")
		}
		rec, err := resolveRun(store, args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(rec.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted run %s\n", rec.ID)
		return nil
	}

	formatter := formatting.NewFactory().CreateFormatter(formatting.Options{
		Format: format,
		Quiet:  opts.quiet,
		Color:  opts.color,
		Writer: out,
	})

	if len(args) == 0 {
		runs, err := store.List()
		if err != nil {
			return err
		}
		return formatter.FormatRuns(runs)
	}

	rec, err := resolveRun(store, args[0])
	if err != nil {
		return err
	}
	return formatter.FormatRun(*rec)
}

// openSummaryStore opens the run store configured in config.yaml.
func openSummaryStore(configPath string) (*summary.Store, error) {
	if configPath == "" {
		dir, err := config.GetUserConfigDir()
		if err != nil {
			return nil, err
		}
		configPath = dir
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load cleanloop configuration from path %s: %w", configPath, err)
	}
	return summary.NewStore(config.NewStorageWithPath(cfg.Storage.Dir)), nil
}

// resolveRun finds a run by full ID or by a unique ID prefix.
func resolveRun(store *summary.Store, id string) (*summary.RunRecord, error) {
	if id == "" {
		return nil, api.NewInvalidParameterError("RUN_ID", id, "must not be empty")
	}
	rec, err := store.Get(id)
	if err == nil {
		return rec, nil
	}
	if !api.IsNotFound(err) {
		return nil, err
	}

	runs, listErr := store.List()
	if listErr != nil {
		return nil, listErr
	}
	var matches []summary.RunRecord
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return nil, err
	case 1:
		return &matches[0], nil
	default:
		return nil, api.NewInvalidParameterError("RUN_ID", id, fmt.Sprintf("prefix matches %d runs", len(matches)))
	}
}
