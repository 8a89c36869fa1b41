package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/cliutil"
)

var argparserCache = &cobra.Command{
	Use:   "cache {[flags]|SUBCOMMAND...}",
	Short: "Manage pyrun's cache",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,
}

func init() {
	argparserCache.AddCommand(&cobra.Command{
		Use:   "dir",
		Short: "Print the cache directory",
		Long: "Print the cache root directory.  The directory holds script environments, " +
			"downloaded wheels, and managed interpreter installs; it need not exist yet.  " +
			"$" + cache.EnvCacheDir + " overrides the default location.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cache.Dir()
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, dir)
			return nil
		},
	})

	argparserCache.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Remove the entire cache",
		Long: "Remove the entire cache: script environments, downloaded wheels, and " +
			"managed interpreter installs.  Everything it held is re-created on demand.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cache.Open()
			if err != nil {
				return err
			}
			return c.Clean(cmd.Context())
		},
	})

	argparser.AddCommand(argparserCache)
}
