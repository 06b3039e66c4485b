package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/envcache/internal/appdata"
	"github.com/calvinalkan/envcache/internal/config"
)

// Run is the main entry point. Returns exit code.
//
// sigCh, when non-nil, cancels the command context on the first signal so
// blocking commands such as lock can give up cleanly.
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := newGlobalFlags()

	if len(args) > 0 {
		args = args[1:]
	}

	if err := globals.set.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(out, globals.set, nil)

			return 0
		}

		fprintln(errOut, "error:", err)
		printUsage(errOut, globals.set, nil)

		return 1
	}

	rest := globals.set.Args()
	if globals.help || len(rest) == 0 {
		printUsage(out, globals.set, nil)

		return 0
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride:    globals.workDir,
		ConfigPath:         globals.configPath,
		AppDataDirOverride: globals.appData,
		Temp:               globals.temp,
		ReadOnly:           globals.readOnly,
		Verbose:            globals.verbose,
		Env:                env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	log.SetDefault(newLogger(errOut, cfg.Level()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)
	app := &lazyAppData{cfg: cfg, env: env, io: o}

	defer func() {
		if err := app.Close(); err != nil {
			fprintln(errOut, "error:", err)
		}
	}()

	commands := allCommands(&cfg, app)

	name := rest[0]
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd.Run(ctx, o, rest[1:])
		}
	}

	fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCommand, name))
	printUsage(errOut, globals.set, commands)

	return 1
}

func allCommands(cfg *config.Config, app *lazyAppData) []*Command {
	return []*Command{
		InfoCmd(app),
		PyInfoCmd(app),
		PyInfoClearCmd(app),
		EmbedLogCmd(app),
		ExtractCmd(cfg, app),
		WheelImageCmd(app),
		LockCmd(cfg, app),
		ResetCmd(app),
		PrintConfigCmd(cfg),
	}
}

type globalFlags struct {
	set        *flag.FlagSet
	workDir    string
	configPath string
	appData    string
	temp       bool
	readOnly   bool
	verbose    bool
	help       bool
}

func newGlobalFlags() *globalFlags {
	g := &globalFlags{set: flag.NewFlagSet("envcache", flag.ContinueOnError)}

	g.set.SetInterspersed(false)
	g.set.SetOutput(io.Discard)
	g.set.StringVarP(&g.workDir, "cwd", "C", "", "Run as if started in `dir`")
	g.set.StringVarP(&g.configPath, "config", "c", "", "Use the specified config `file`")
	g.set.StringVar(&g.appData, "app-data", "", "App data `folder` (overrides config and "+appdata.EnvAppData+")")
	g.set.BoolVar(&g.temp, "temp", false, "Use a temporary app data folder removed on exit")
	g.set.BoolVar(&g.readOnly, "read-only", false, "Serve an existing app data folder without writing")
	g.set.BoolVarP(&g.verbose, "verbose", "v", false, "Log debug output to stderr")
	g.set.BoolVarP(&g.help, "help", "h", false, "Show help")

	return g
}

// lazyAppData opens app data on first use, so print-config and --help work
// even when the folder is unusable.
type lazyAppData struct {
	cfg config.Config
	env map[string]string
	io  *IO

	data appdata.AppData
}

func (l *lazyAppData) Get() (appdata.AppData, error) {
	if l.data != nil {
		return l.data, nil
	}

	data, err := appdata.Make(appdata.MakeOptions{
		Folder:   l.cfg.AppDataDirAbs,
		Env:      l.env,
		ReadOnly: l.cfg.ReadOnly,
		Temp:     l.cfg.Temp,
	})
	if err != nil {
		return nil, fmt.Errorf("open app data: %w", err)
	}

	if data.Transient() && !l.cfg.Temp {
		l.io.Warn("app data folder "+l.cfg.AppDataDirAbs+" is not writable",
			"using a temporary folder; fix permissions or pass --app-data")
	}

	l.data = data

	return data, nil
}

func (l *lazyAppData) Close() error {
	if l.data == nil {
		return nil
	}

	return l.data.Close()
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          "envcache",
		ReportTimestamp: level == log.DebugLevel,
	})
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	if commands == nil {
		commands = allCommands(&config.Config{}, &lazyAppData{})
	}

	fprintln(w, `envcache - app data cache for environment provisioning

Usage: envcache [global flags] <command> [args]

Global flags:`)
	fprintln(w, strings.TrimRight(globals.FlagUsages(), "\n"))
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
