package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/envcache/internal/appdata"
	"github.com/calvinalkan/envcache/internal/config"
	"github.com/calvinalkan/envcache/internal/lock"
)

// lockPollInterval bounds how long a blocking lock wait goes without
// checking for cancellation.
const lockPollInterval = 100 * time.Millisecond

// ExtractCmd returns the extract command.
func ExtractCmd(cfg *config.Config, app *lazyAppData) *Command {
	flags := flag.NewFlagSet("extract", flag.ContinueOnError)
	to := flags.String("to", "", "Extract below `dir` instead of the unzip area")

	return &Command{
		Flags: flags,
		Usage: "extract <archive> [flags]",
		Short: "Extract an archive once and print its destination",
		Long: `Extract an archive into the app data unzip area (or --to) unless it was
already extracted, then print the destination. Concurrent invocations wait
for each other and extract only once.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			archive, err := oneArg(args, "archive")
			if err != nil {
				return err
			}

			archive = resolve(cfg.EffectiveCwd, archive)

			data, err := app.Get()
			if err != nil {
				return err
			}

			var toFolder func() string
			if *to != "" {
				dir := resolve(cfg.EffectiveCwd, *to)
				toFolder = func() string { return dir }
			}

			return data.Extract(archive, toFolder, func(dest string) error {
				o.Println(dest)

				return nil
			})
		},
	}
}

// resolve makes path absolute relative to workDir.
func resolve(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

// WheelImageCmd returns the wheel-image command.
func WheelImageCmd(app *lazyAppData) *Command {
	flags := flag.NewFlagSet("wheel-image", flag.ContinueOnError)
	pyVersion := flags.String("py", "", "Python major.minor `version`")

	return &Command{
		Flags: flags,
		Usage: "wheel-image --py <version> <name>",
		Short: "Print the image directory of a wheel",
		Exec: func(_ context.Context, o *IO, args []string) error {
			name, err := oneArg(args, "name")
			if err != nil {
				return err
			}

			if *pyVersion == "" {
				return fmt.Errorf("%w: --py", ErrFlagRequired)
			}

			data, err := app.Get()
			if err != nil {
				return err
			}

			o.Println(data.WheelImage(*pyVersion, name))

			return nil
		},
	}
}

// LockCmd returns the lock command.
func LockCmd(cfg *config.Config, app *lazyAppData) *Command {
	flags := flag.NewFlagSet("lock", flag.ContinueOnError)
	timeout := flags.Duration("timeout", 0, "Give up after `duration` (default: lock_timeout config, 0 waits forever)")
	noBlock := flags.Bool("no-block", false, "Fail immediately if the lock is held")
	hold := flags.Duration("hold", 0, "Keep the lock for `duration` before releasing")

	return &Command{
		Flags: flags,
		Usage: "lock <key> [flags]",
		Short: "Acquire a key lock in the app data folder",
		Long: `Acquire <app data>/<key>.lock, report it, optionally hold it, then release.

Useful to check whether another process holds a lock, or to hold one while
poking at the cache by hand.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			key, err := oneArg(args, "key")
			if err != nil {
				return err
			}

			data, err := app.Get()
			if err != nil {
				return err
			}

			if _, ok := data.(*appdata.ReadOnly); ok {
				return fmt.Errorf("lock: %w", appdata.ErrReadOnly)
			}

			wait := *timeout
			if !flags.Changed("timeout") {
				wait = cfg.LockTimeout
			}

			registry := lock.ProcessRegistry()
			handle := registry.Acquire(filepath.Join(data.Path(), key+".lock"))

			defer registry.Release(handle)

			if err := acquire(ctx, handle, *noBlock, wait); err != nil {
				return err
			}

			o.Println("acquired", handle.Path())

			if *hold > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(*hold):
				}
			}

			if err := handle.Release(); err != nil {
				return err
			}

			o.Println("released", handle.Path())

			return nil
		},
	}
}

// acquire takes handle, waiting at most timeout (forever when zero) and
// giving up when ctx is cancelled.
func acquire(ctx context.Context, handle *lock.FileLock, noBlock bool, timeout time.Duration) error {
	switch {
	case noBlock:
		return handle.TryAcquire()
	case timeout > 0:
		return handle.AcquireTimeout(timeout)
	}

	for {
		err := handle.AcquireTimeout(lockPollInterval)
		if !errors.Is(err, lock.ErrLockTimeout) {
			return err
		}

		if ctx.Err() != nil {
			return fmt.Errorf("waiting for %s: %w", handle.Path(), ctx.Err())
		}
	}
}

// ResetCmd returns the reset command.
func ResetCmd(app *lazyAppData) *Command {
	return &Command{
		Flags: flag.NewFlagSet("reset", flag.ContinueOnError),
		Usage: "reset",
		Short: "Delete the whole app data folder",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}

			data, err := app.Get()
			if err != nil {
				return err
			}

			if err := data.Reset(); err != nil {
				return err
			}

			o.Println("reset", data.Path())

			return nil
		},
	}
}

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}

			execPrintConfig(o, cfg)

			return nil
		},
	}
}

func execPrintConfig(o *IO, cfg *config.Config) {
	o.Println("effective_cwd=" + cfg.EffectiveCwd)
	o.Println("app_data_dir=" + cfg.AppDataDirAbs)
	o.Printf("read_only=%t\n", cfg.ReadOnly)
	o.Printf("temp=%t\n", cfg.Temp)
	o.Println("lock_timeout=" + cfg.LockTimeout.String())
	o.Println("log_level=" + cfg.LogLevel)

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" && cfg.Sources.Env == "" {
		o.Println("(defaults only)")

		return
	}

	if cfg.Sources.Global != "" {
		o.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		o.Println("project_config=" + cfg.Sources.Project)
	}

	if cfg.Sources.Env != "" {
		o.Println("env=" + cfg.Sources.Env)
	}
}
