package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/envcache/internal/appdata"
)

// InfoCmd returns the info command.
func InfoCmd(app *lazyAppData) *Command {
	return &Command{
		Flags: flag.NewFlagSet("info", flag.ContinueOnError),
		Usage: "info",
		Short: "Show the app data folder and its layout",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}

			data, err := app.Get()
			if err != nil {
				return err
			}

			o.Println("path=" + data.Path())
			o.Printf("transient=%t\n", data.Transient())
			o.Printf("can_update=%t\n", data.CanUpdate())
			o.Println("py_info=" + filepath.Dir(data.PyInfo("").File()))
			o.Println("unzip=" + filepath.Join(data.Path(), "unzip", appdata.Version))

			o.Println("house=" + filepath.Join(data.Path(), "wheel", "house"))

			return nil
		},
	}
}

// PyInfoCmd returns the py-info command.
func PyInfoCmd(app *lazyAppData) *Command {
	flags := flag.NewFlagSet("py-info", flag.ContinueOnError)
	set := flags.String("set", "", "Store `json` as the interpreter record")
	remove := flags.Bool("remove", false, "Delete the interpreter record")

	return &Command{
		Flags: flags,
		Usage: "py-info <interpreter> [flags]",
		Short: "Show, store or delete an interpreter record",
		Long: `Show the cached introspection record of an interpreter.

Exits 1 when nothing is cached. With --set the record is replaced under the
interpreter's key lock; with --remove it is deleted.`,
		Exec: func(_ context.Context, o *IO, args []string) error {
			interpreter, err := oneArg(args, "interpreter")
			if err != nil {
				return err
			}

			if *set != "" && *remove {
				return fmt.Errorf("%w: --set and --remove", ErrConflictingFlag)
			}

			data, err := app.Get()
			if err != nil {
				return err
			}

			return runStore(o, data.PyInfo(interpreter), *set, *remove)
		},
	}
}

// PyInfoClearCmd returns the py-info-clear command.
func PyInfoClearCmd(app *lazyAppData) *Command {
	return &Command{
		Flags: flag.NewFlagSet("py-info-clear", flag.ContinueOnError),
		Usage: "py-info-clear",
		Short: "Delete every interpreter record",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if err := noArgs(args); err != nil {
				return err
			}

			data, err := app.Get()
			if err != nil {
				return err
			}

			if err := data.PyInfoClear(); err != nil {
				return err
			}

			o.Println("cleared", filepath.Dir(data.PyInfo("").File()))

			return nil
		},
	}
}

// EmbedLogCmd returns the embed-log command.
func EmbedLogCmd(app *lazyAppData) *Command {
	flags := flag.NewFlagSet("embed-log", flag.ContinueOnError)
	pyVersion := flags.String("py", "", "Python major.minor `version`")
	set := flags.String("set", "", "Store `json` as the update log")

	return &Command{
		Flags: flags,
		Usage: "embed-log <distribution> --py <version> [flags]",
		Short: "Show or store a distribution's update log",
		Exec: func(_ context.Context, o *IO, args []string) error {
			distribution, err := oneArg(args, "distribution")
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

			store, err := data.EmbedUpdateLog(distribution, *pyVersion)
			if err != nil {
				return err
			}

			return runStore(o, store, *set, false)
		},
	}
}

// runStore prints, replaces or removes a store's document.
func runStore(o *IO, store appdata.ContentStore, set string, remove bool) error {
	switch {
	case set != "":
		doc, err := parseDocument(set)
		if err != nil {
			return err
		}

		if err := store.Locked(func() error { return store.Write(doc) }); err != nil {
			return err
		}

		o.Println(store.File())

		return nil
	case remove:
		if err := store.Locked(store.Remove); err != nil {
			return err
		}

		o.Println("removed", store.File())

		return nil
	}

	doc, err := store.Read()
	if err != nil {
		return err
	}

	if doc == nil {
		return fmt.Errorf("%w: %s", ErrNotCached, store.Label())
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	o.Println(string(encoded))

	return nil
}

func parseDocument(raw string) (appdata.Document, error) {
	var doc appdata.Document

	if err := json.Unmarshal([]byte(raw), &doc); err != nil || doc == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDocument, raw)
	}

	return doc, nil
}

// noArgs rejects positional arguments for commands that take none.
func noArgs(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: %v", ErrTooManyArgs, args)
	}

	return nil
}

func oneArg(args []string, name string) (string, error) {
	switch len(args) {
	case 0:
		return "", fmt.Errorf("%w: <%s>", ErrArgRequired, name)
	case 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrTooManyArgs, args[1:])
	}
}
