package main

import (
	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cliutil"
)

var argparserWheel = &cobra.Command{
	Use:   "wheel {[flags]|SUBCOMMAND...}",
	Short: "Work with Python wheel files",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparser.AddCommand(argparserWheel)
}
