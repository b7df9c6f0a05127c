// Package config loads the daymark settings file: a YAML document
// validated against an embedded CUE schema before use. Structural
// violations fail loading; a missing file yields the defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/daymark/daymark/internal/timeslot"
)

// schema constrains the settings document. Boundary lists that pass
// the schema can still be rejected by the bucketer (must start at
// midnight, strictly ascending); the bucketer falls back to defaults
// in that case rather than failing here.
const schema = `
#Boundary: {
	hour:   int & >=0 & <=23
	minute: int & >=0 & <=59
}

#Config: {
	vault: {
		root:       string
		tasksDir:   string | *"tasks"
		overlayDir: string | *"overlays"
		logDir:     string | *"logs"
		taskTag:    string | *"task"
	}
	boundaries: [...#Boundary]
	debounceMs:     int & >=0 | *500
	scanIntervalMs: int & >0 | *2000
}
`

// VaultConfig locates the vault and its well-known folders.
type VaultConfig struct {
	Root       string `yaml:"root" json:"root"`
	TasksDir   string `yaml:"tasksDir" json:"tasksDir"`
	OverlayDir string `yaml:"overlayDir" json:"overlayDir"`
	LogDir     string `yaml:"logDir" json:"logDir"`
	TaskTag    string `yaml:"taskTag" json:"taskTag"`
}

// BoundaryConfig is one slot boundary in the settings file.
type BoundaryConfig struct {
	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`
}

// Config is the full settings document.
type Config struct {
	Vault          VaultConfig      `yaml:"vault" json:"vault"`
	Boundaries     []BoundaryConfig `yaml:"boundaries,omitempty" json:"boundaries,omitempty"`
	DebounceMS     int              `yaml:"debounceMs" json:"debounceMs"`
	ScanIntervalMS int              `yaml:"scanIntervalMs" json:"scanIntervalMs"`
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		Vault: VaultConfig{
			Root:       dir,
			TasksDir:   "tasks",
			OverlayDir: "overlays",
			LogDir:     "logs",
			TaskTag:    "task",
		},
		DebounceMS:     500,
		ScanIntervalMS: 2000,
	}
}

// Load reads and validates the settings file. A missing file returns
// the defaults rooted at fallbackRoot; a malformed or invalid file is
// an error, not a silent fallback.
func Load(path, fallbackRoot string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(fallbackRoot), nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data, fallbackRoot)
}

// Parse decodes and validates a settings document.
func Parse(data []byte, fallbackRoot string) (Config, error) {
	cfg := Default(fallbackRoot)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if cfg.Vault.Root == "" {
		cfg.Vault.Root = fallbackRoot
	}
	return cfg, nil
}

var pathConfig = cue.ParsePath("#Config")

// validate unifies the decoded document with the CUE schema.
func validate(cfg Config) error {
	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	defVal := schemaVal.LookupPath(pathConfig)
	if err := defVal.Err(); err != nil {
		return fmt.Errorf("resolve config schema: %w", err)
	}
	unified := defVal.Unify(ctx.Encode(cfg))
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlotBoundaries converts the configured boundaries for the bucketer.
// An empty list means the built-in defaults.
func (c Config) SlotBoundaries() []timeslot.Boundary {
	if len(c.Boundaries) == 0 {
		return nil
	}
	out := make([]timeslot.Boundary, len(c.Boundaries))
	for i, b := range c.Boundaries {
		out[i] = timeslot.Boundary{Hour: b.Hour, Minute: b.Minute}
	}
	return out
}

// Bucketer builds the slot bucketer from the configuration, falling
// back to the default boundaries when none are configured or the
// configured list is unusable.
func (c Config) Bucketer() *timeslot.Bucketer {
	bs := c.SlotBoundaries()
	if bs == nil {
		return timeslot.Default()
	}
	return timeslot.New(bs)
}
