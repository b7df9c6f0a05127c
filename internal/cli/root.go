// Package cli wires the daymark commands: a day view, the occurrence
// mutations, and the long-running watch loop.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // settings file path
	Vault   string // vault root, overrides the settings file
	Date    string // date key, defaults to today
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the daymark root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "daymark",
		Short: "Daymark - daily task occurrences from a plain-text vault",
		Long: `Daymark materializes the task occurrences for a calendar date from
markdown notes, recurrence rules, and the execution log, and keeps the
day consistent under duplicates, deletions, and slot moves.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "settings file (default <vault>/.daymark/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Vault, "vault", ".", "vault root directory")
	cmd.PersistentFlags().StringVar(&opts.Date, "date", "", "date key YYYY-MM-DD (default today)")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewStopCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewDuplicateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewHideCommand(opts))
	cmd.AddCommand(NewMoveCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
