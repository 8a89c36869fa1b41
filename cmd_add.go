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
		Use:   "add [flags] --script=SCRIPT.py REQUIREMENT...",
		Short: "Add dependencies to a script's inline metadata",
		Long: "Add PEP 508 requirement strings to the script's dependency list, " +
			"creating the metadata block if the script has none.  A requirement for " +
			"an already-listed package replaces the old entry.  Everything outside " +
			"the dependency list is left byte-for-byte alone, and an existing " +
			"lockfile is re-resolved so that it can't go stale.",
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
				if deps, err = upsertRequirement(deps, arg); err != nil {
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
			dlog.Infof(ctx, "added %d requirement(s) to %q", len(args), flags.Script)

			return refreshLockfile(ctx, flags.Script, edited)
		},
	}
	cmd.Flags().StringVar(&flags.Script, "script", "", "The script `FILE` whose metadata to edit")
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}

	argparser.AddCommand(cmd)
}
