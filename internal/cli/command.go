package cli

import (
	"context"
	"errors"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// Command is one envcache subcommand.
type Command struct {
	// Flags are the command's own flags, parsed after the global ones.
	Flags *flag.FlagSet

	// Usage starts with the command name, followed by its arguments,
	// e.g. "py-info <interpreter> [flags]".
	Usage string

	// Short is the line shown in the command listing.
	Short string

	// Long is shown by "envcache <cmd> --help". Falls back to Short.
	Long string

	// Exec receives the positional arguments left after flag parsing.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name is the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine is the command's entry in the top-level usage listing.
func (c *Command) HelpLine() string {
	return "  " + padRight(c.Usage, 34) + " " + c.Short
}

// PrintHelp writes the help for "envcache <cmd> --help" to stdout.
func (c *Command) PrintHelp(o *IO) {
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println("Usage: envcache [global flags]", c.Usage)
	o.Println()
	o.Println(desc)

	if c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		o.Printf("%s", c.Flags.FlagUsages())
	}

	o.Println()
	o.Println("Run 'envcache --help' for global flags.")
}

// Run parses args into the command's flags and executes it, returning the
// process exit code. Errors are printed here so they always follow any
// output the command already produced.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(io.Discard)

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln("run 'envcache " + c.Name() + " --help' for usage")

		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return o.Finish()
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}

	return s + strings.Repeat(" ", width-len(s))
}
