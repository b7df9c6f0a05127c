package cli

import (
	"github.com/spf13/cobra"

	"github.com/daymark/daymark/internal/task"
)

// newInstanceCommand builds a command that applies one id-keyed
// mutation and reports its notice.
func newInstanceCommand(opts *RootOptions, use, short string, mutate func(s *session, id string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use + " <instance-id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			notice, err := mutate(s, args[0])
			if err != nil {
				_ = s.out.Error(err)
				return WrapExitError(ExitFailure, notice, err)
			}
			return s.out.Success(notice, notice)
		},
	}
}

// NewStartCommand creates the start command.
func NewStartCommand(opts *RootOptions) *cobra.Command {
	return newInstanceCommand(opts, "start", "Start an idle occurrence",
		func(s *session, id string) (string, error) { return s.engine.Start(id) })
}

// NewStopCommand creates the stop command.
func NewStopCommand(opts *RootOptions) *cobra.Command {
	return newInstanceCommand(opts, "stop", "Stop a running occurrence and log the execution",
		func(s *session, id string) (string, error) { return s.engine.Stop(id) })
}

// NewResetCommand creates the reset command.
func NewResetCommand(opts *RootOptions) *cobra.Command {
	return newInstanceCommand(opts, "reset", "Return an occurrence to idle, removing its log entry",
		func(s *session, id string) (string, error) { return s.engine.Reset(id) })
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return newInstanceCommand(opts, "delete", "Delete an occurrence for the day",
		func(s *session, id string) (string, error) { return s.engine.Delete(id) })
}

// NewHideCommand creates the hide command.
func NewHideCommand(opts *RootOptions) *cobra.Command {
	return newInstanceCommand(opts, "hide", "Hide a routine occurrence for the day",
		func(s *session, id string) (string, error) { return s.engine.HideRoutine(id) })
}

// NewDuplicateCommand creates the duplicate command.
func NewDuplicateCommand(opts *RootOptions) *cobra.Command {
	var slot string

	cmd := &cobra.Command{
		Use:           "duplicate <instance-id>",
		Short:         "Create another occurrence of a task",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			dup, notice, err := s.engine.Duplicate(args[0], slot)
			if err != nil {
				_ = s.out.Error(err)
				return WrapExitError(ExitFailure, notice, err)
			}
			if opts.Format == "json" {
				return s.out.Success(notice, instanceView{
					ID:        dup.ID,
					Title:     dup.Def.Title(),
					Path:      dup.Def.Path,
					State:     dup.State.String(),
					Slot:      dup.Slot,
					Order:     dup.Order,
					Duplicate: true,
				})
			}
			return s.out.Success(notice, dup.ID)
		},
	}

	cmd.Flags().StringVar(&slot, "slot", "", "target slot key (default the original's slot)")
	return cmd
}

// NewMoveCommand creates the move command.
func NewMoveCommand(opts *RootOptions) *cobra.Command {
	var slot string
	var index int

	cmd := &cobra.Command{
		Use:           "move <instance-id>",
		Short:         "Move an occurrence to a slot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts, cmd)
			if err != nil {
				return err
			}
			defer s.close()

			notice, err := s.engine.MoveToSlot(args[0], slot, index)
			if err != nil {
				_ = s.out.Error(err)
				return WrapExitError(ExitFailure, notice, err)
			}
			return s.out.Success(notice, notice)
		},
	}

	cmd.Flags().StringVar(&slot, "slot", task.NoSlot, "target slot key")
	cmd.Flags().IntVar(&index, "index", -1, "position among the slot's peers (-1 appends)")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}
