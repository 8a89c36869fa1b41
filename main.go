// Command pyrun runs standalone Python scripts, giving each script an
// isolated environment built from its inline metadata.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cliutil"
)

var argparser = &cobra.Command{
	Use:   "pyrun {[flags]|SUBCOMMAND...}",
	Short: "Run standalone Python scripts in managed environments",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,

	SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
	SilenceUsage:  true, // our FlagErrorFunc will handle it
}

func init() {
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
}

// An exitCodeError says that the script that `pyrun run` ran exited with this
// code; main() passes the code along instead of printing an error, so that
// pyrun is transparent to the script's callers.
type exitCodeError int

func (code exitCodeError) Error() string {
	return fmt.Sprintf("script exited with code %d", int(code))
}

func main() {
	ctx := context.Background()

	if err := argparser.ExecuteContext(ctx); err != nil {
		var childExit exitCodeError
		if errors.As(err, &childExit) {
			os.Exit(int(childExit))
		}
		fmt.Fprintf(argparser.ErrOrStderr(), "%s: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
