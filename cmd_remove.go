package main

import (
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/python/pep723"
)

func init() {
	var flags struct {
		Script string
	}
	cmd := &cobra.Command{
		Use:   "remove [flags] --script=SCRIPT.py PACKAGE...",
		Short: "Remove dependencies from a script's inline metadata",
		Long: "Remove packages (by name; \"Requests\" and \"requests\" are the same " +
			"package) from the script's dependency list.  Naming a package the " +
			"script doesn't depend on is an error.  An existing lockfile is " +
			"re-resolved so that it can't go stale.",
		Args: cliutil.WrapPositionalArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			source, err := os.ReadFile(flags.Script)
			if err != nil {
				return err
			}
			fi, err := os.Stat(flags.Script)
			if err != nil {
				return err
			}
			md, err := scriptMetadata(flags.Script, source)
			if err != nil {
				return err
			}

			deps := md.Dependencies
			for _, arg := range args {
				if deps, err = removeRequirement(deps, arg); err != nil {
					return err
				}
			}

			edited, err := pep723.SetDependencies(source, deps)
			if err != nil {
				return err
			}
			if err := renameio.WriteFile(flags.Script, edited, fi.Mode().Perm()); err != nil {
				return err
			}
			dlog.Infof(ctx, "removed %d package(s) from %q", len(args), flags.Script)

			return refreshLockfile(ctx, flags.Script, edited)
		},
	}
	cmd.Flags().StringVar(&flags.Script, "script", "", "The script `FILE` whose metadata to edit")
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}

	argparser.AddCommand(cmd)
}
