package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/python/lockfile"
)

func init() {
	var flags struct {
		Script   string
		IndexURL string
	}
	cmd := &cobra.Command{
		Use:   "lock [flags] --script=SCRIPT.py",
		Short: "Resolve a script's dependencies and write its lockfile",
		Long: "Resolve the script's declared dependencies against the package index " +
			"and write the pinned result to SCRIPT.py.lock, next to the script.  " +
			"`pyrun run` then installs from the lockfile, without consulting the " +
			"index, for as long as the metadata block is unchanged.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			source, err := os.ReadFile(flags.Script)
			if err != nil {
				return err
			}
			md, err := scriptMetadata(flags.Script, source)
			if err != nil {
				return err
			}
			lockPath := flags.Script + ".lock"

			if old, err := lockfile.Load(lockPath); err == nil &&
				old.Fresh(md.RequiresPython, md.Dependencies, md.Tool.Pyrun.ExcludeNewer) {
				dlog.Infof(ctx, "%q is already up to date", lockPath)
				return nil
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			reqs, err := md.Requirements()
			if err != nil {
				return err
			}
			c, err := cache.Open()
			if err != nil {
				return err
			}
			d, err := newDiscovery(c)
			if err != nil {
				return err
			}
			in, err := findInterpreter(ctx, d, "", md)
			if err != nil {
				return err
			}
			res, err := newResolver(c, in, flags.IndexURL, md)
			if err != nil {
				return err
			}
			pins, err := res.Resolve(ctx, reqs, flags.Script)
			if err != nil {
				return err
			}

			lf := newLockfile(md, pins)
			if err := lf.Save(lockPath); err != nil {
				return err
			}
			dlog.Infof(ctx, "wrote %q (%d packages)", lockPath, len(lf.Packages))
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Script, "script", "", "The script `FILE` whose dependencies to lock")
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}
	cmd.Flags().StringVar(&flags.IndexURL, "index-url", "",
		"Base `URL` of the package index (default $"+EnvIndexURL+", then PyPI)")

	argparser.AddCommand(cmd)
}
