package cli_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/calvinalkan/envcache/internal/cli"
)

func Test_IO_Warn_Surrounds_Output_Without_Failing(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer

	o := cli.NewIO(&out, &errOut)
	o.Warn("app data folder /ro is not writable", "using a temporary folder")
	o.Println("path=/tmp/envcache-1")

	if got := o.Finish(); got != 0 {
		t.Errorf("exit code=%d, want=0", got)
	}

	if got, want := out.String(), "path=/tmp/envcache-1\n"; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	warning := "warning: app data folder /ro is not writable: using a temporary folder\n"
	if got, want := strings.Count(errOut.String(), warning), 2; got != want {
		t.Errorf("warning printed %d times, want %d; stderr=%q", got, want, errOut.String())
	}
}

func Test_IO_Warn_Printed_Once_When_No_Output(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer

	o := cli.NewIO(&out, &errOut)
	o.Warn("issue", "action")
	o.Finish()

	if got, want := errOut.String(), "warning: issue: action\n"; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}
}

func Test_Command_Flag_Error_Points_To_Help(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("lock", "pip", "--bogus")

	cli.AssertContains(t, stderr, "unknown flag: --bogus")
	cli.AssertContains(t, stderr, "run 'envcache lock --help' for usage")
}
