package cli

import (
	"fmt"
	"io"
)

// IO is the output side of a command: results go to stdout, errors and
// warnings to stderr.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
	flushed  bool
}

// NewIO creates an IO writing to out and errOut.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Warn queues a warning about degraded operation, such as serving from a
// temporary folder because the configured app data folder is not writable.
//
// Queued warnings go to stderr before the first line of output and again
// when the command finishes, so a script piping stdout through head or
// tail still sees them on the terminal. They do not fail the command: the
// request was served, just not from where the user expected.
func (o *IO) Warn(issue string, action string) {
	o.warnings = append(o.warnings, issue+": "+action)
}

// Println writes a line to stdout.
func (o *IO) Println(a ...any) {
	o.flushWarnings()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	o.flushWarnings()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes a line to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish repeats warnings already shown before the output, or shows them
// for the first time if there was no output, and returns exit code 0.
func (o *IO) Finish() int {
	if o.flushed {
		o.printWarnings()
	} else {
		o.flushWarnings()
	}

	return 0
}

func (o *IO) flushWarnings() {
	if o.flushed || len(o.warnings) == 0 {
		return
	}

	o.printWarnings()
	o.flushed = true
}

func (o *IO) printWarnings() {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}
}
