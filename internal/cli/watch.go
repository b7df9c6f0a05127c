package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daymark/daymark/internal/engine"
)

// NewWatchCommand creates the watch command: the long-running loop
// that follows external vault edits and slot boundaries.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow vault changes and slot boundaries",
		Long: `Run until interrupted: poll the vault for external edits, coalesce
bursts behind a debounce window into a single reconciliation, fire at
each slot boundary to promote elapsed occurrences, and carry running
occurrences across midnight.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, cancel := context.WithCancel(parentCtx)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case sig := <-sigChan:
					slog.Info("received signal, shutting down", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			events := s.vault.Subscribe()
			go s.vault.Watch(ctx, time.Duration(s.cfg.ScanIntervalMS)*time.Millisecond)

			timer := engine.NewBoundaryTimer(s.engine)
			timer.Start()
			defer timer.Stop()

			fmt.Fprintln(cmd.OutOrStdout(), "Watching. Press Ctrl-C to stop.")
			s.engine.WatchVault(ctx, events, time.Duration(s.cfg.DebounceMS)*time.Millisecond)

			slog.Info("watch stopped")
			return nil
		},
	}
}
