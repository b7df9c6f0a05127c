package cli

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/daymark/daymark/internal/config"
	"github.com/daymark/daymark/internal/engine"
	"github.com/daymark/daymark/internal/execlog"
	"github.com/daymark/daymark/internal/overlay"
	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/vault"
)

// session bundles the collaborators one command invocation needs.
type session struct {
	cfg    config.Config
	vault  *vault.Vault
	engine *engine.Engine
	date   task.DateKey
	out    *OutputFormatter
}

// openSession loads the configuration, opens the vault, and builds an
// engine reconciled for the requested date.
func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfgPath := opts.Config
	if cfgPath == "" {
		cfgPath = filepath.Join(opts.Vault, ".daymark", "config.yaml")
	}
	cfg, err := config.Load(cfgPath, opts.Vault)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Vault != "" && opts.Vault != "." {
		cfg.Vault.Root = opts.Vault
	}

	v, err := vault.Open(cfg.Vault.Root)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open vault", err)
	}

	date := task.DateKey(opts.Date)
	if opts.Date == "" {
		date = task.KeyOf(time.Now())
	} else if !date.Valid() {
		_ = v.Close()
		return nil, WrapExitError(ExitCommandError, "invalid --date, expected YYYY-MM-DD", nil)
	}

	ov := overlay.NewStore(v, cfg.Vault.OverlayDir)
	lg := execlog.New(v, cfg.Vault.LogDir)
	eng := engine.New(v, ov, lg, cfg.Bucketer(), engine.UUIDv7Generator{},
		engine.WithTasksDir(cfg.Vault.TasksDir),
		engine.WithTaskTag(cfg.Vault.TaskTag),
	)
	if _, err := eng.Reconcile(date); err != nil {
		_ = v.Close()
		return nil, WrapExitError(ExitCommandError, "reconciliation failed", err)
	}

	return &session{
		cfg:    cfg,
		vault:  v,
		engine: eng,
		date:   date,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		},
	}, nil
}

func (s *session) close() {
	_ = s.vault.Close()
}
