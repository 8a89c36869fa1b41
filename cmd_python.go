package main

import (
	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cliutil"
)

var argparserPython = &cobra.Command{
	Use:   "python {[flags]|SUBCOMMAND...}",
	Short: "Manage Python interpreters",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparser.AddCommand(argparserPython)
}
