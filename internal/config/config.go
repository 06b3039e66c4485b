// Package config loads envcache configuration from layered JSONC files, the
// environment and command-line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/envcache/internal/appdata"
)

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrConflictingModes   = errors.New("read_only and temp cannot both be set")
	ErrInvalidLockTimeout = errors.New("lock_timeout must be a non-negative duration")
	ErrInvalidLogLevel    = errors.New("unknown log_level")
)

// FileName is the project config file looked up in the working directory.
const FileName = ".envcache.json"

const (
	appName         = "envcache"
	globalFileName  = "config.json"
	defaultLogLevel = "warn"
)

// Config is the resolved configuration.
type Config struct {
	AppDataDir  string        // as configured; empty selects the default folder
	ReadOnly    bool          // serve an existing folder without writing
	Temp        bool          // use a throwaway folder
	LockTimeout time.Duration // zero waits forever
	LogLevel    string

	// Resolved values (computed)
	EffectiveCwd  string // absolute working directory
	AppDataDirAbs string // absolute app data folder

	// Sources tracks where values came from (for diagnostics)
	Sources Sources
}

// Sources tracks which config files and environment variables were applied.
type Sources struct {
	Global  string // path to global config if loaded
	Project string // path to project or explicit config if loaded
	Env     string // name of the environment variable that set the folder
}

// file is the serialized form. Pointers distinguish unset from zero.
type file struct {
	AppDataDir  *string `json:"app_data_dir"`
	ReadOnly    *bool   `json:"read_only"`
	Temp        *bool   `json:"temp"`
	LockTimeout *string `json:"lock_timeout"`
	LogLevel    *string `json:"log_level"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{LogLevel: defaultLogLevel}
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride    string            // -C/--cwd; empty means os.Getwd
	ConfigPath         string            // -c/--config
	AppDataDirOverride string            // --app-data
	Temp               bool              // --temp
	ReadOnly           bool              // --read-only
	Verbose            bool              // -v/--verbose forces debug logging
	Env                map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/envcache/config.json)
// 3. Project config file (.envcache.json in the working directory, if present)
// 4. Explicit config file via ConfigPath (replaces the project file)
// 5. Environment (ENVCACHE_APP_DATA)
// 6. CLI overrides.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = path

			if cfg, err = merge(cfg, global); err != nil {
				return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
			}
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	project, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath

		if cfg, err = merge(cfg, project); err != nil {
			return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, projectPath, err)
		}
	}

	if dir := input.Env[appdata.EnvAppData]; dir != "" {
		cfg.AppDataDir = dir
		cfg.Sources.Env = appdata.EnvAppData
	}

	if input.AppDataDirOverride != "" {
		cfg.AppDataDir = input.AppDataDirOverride
	}

	cfg.Temp = cfg.Temp || input.Temp
	cfg.ReadOnly = cfg.ReadOnly || input.ReadOnly

	if input.Verbose {
		cfg.LogLevel = log.DebugLevel.String()
	}

	if cfg.Temp && cfg.ReadOnly {
		return Config{}, ErrConflictingModes
	}

	cfg.EffectiveCwd = workDir

	switch {
	case cfg.AppDataDir == "":
		cfg.AppDataDirAbs = appdata.DefaultFolder(input.Env)
	case filepath.IsAbs(cfg.AppDataDir):
		cfg.AppDataDirAbs = cfg.AppDataDir
	default:
		cfg.AppDataDirAbs = filepath.Join(workDir, cfg.AppDataDir)
	}

	return cfg, nil
}

// Level returns the parsed log level.
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.WarnLevel
	}

	return level
}

// globalPath returns $XDG_CONFIG_HOME/envcache/config.json, falling back to
// ~/.config and finally to the platform default config dir.
func globalPath(env map[string]string) string {
	if dir := env["XDG_CONFIG_HOME"]; dir != "" {
		return filepath.Join(dir, appName, globalFileName)
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", appName, globalFileName)
	}

	if xdg.ConfigHome == "" {
		return ""
	}

	return filepath.Join(xdg.ConfigHome, appName, globalFileName)
}

// loadFile reads a config file. Missing optional files are skipped; any
// other read error is reported.
func loadFile(path string, mustExist bool) (file, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case mustExist && errors.Is(err, os.ErrNotExist):
			return file{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		case errors.Is(err, os.ErrNotExist):
			return file{}, false, nil
		default:
			return file{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
		}
	}

	parsed, err := parse(data)
	if err != nil {
		return file{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return parsed, true, nil
}

func parse(data []byte) (file, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return file{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var f file

	if err := json.Unmarshal(standardized, &f); err != nil {
		return file{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return f, nil
}

// merge overlays the values set in f onto base and validates them.
func merge(base Config, f file) (Config, error) {
	if f.AppDataDir != nil {
		base.AppDataDir = *f.AppDataDir
	}

	if f.ReadOnly != nil {
		base.ReadOnly = *f.ReadOnly
	}

	if f.Temp != nil {
		base.Temp = *f.Temp
	}

	if f.LockTimeout != nil {
		timeout, err := time.ParseDuration(*f.LockTimeout)
		if err != nil || timeout < 0 {
			return Config{}, fmt.Errorf("%w: %q", ErrInvalidLockTimeout, *f.LockTimeout)
		}

		base.LockTimeout = timeout
	}

	if f.LogLevel != nil {
		if _, err := log.ParseLevel(*f.LogLevel); err != nil {
			return Config{}, fmt.Errorf("%w: %q", ErrInvalidLogLevel, *f.LogLevel)
		}

		base.LogLevel = *f.LogLevel
	}

	return base, nil
}
