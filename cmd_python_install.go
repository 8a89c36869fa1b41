package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/python/interp"
)

func init() {
	cmd := &cobra.Command{
		Use:   "install [flags] [VERSION]",
		Short: "Install a managed Python interpreter",
		Long: "Download a python-build-standalone CPython build matching VERSION in to " +
			"pyrun's cache and print its interpreter path.  An already-installed " +
			"matching build is reused.  Managed interpreters are only picked up " +
			"automatically when no system interpreter satisfies a request.",
		Args: cliutil.WrapPositionalArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := cache.Open()
			if err != nil {
				return err
			}
			d, err := newDiscovery(c)
			if err != nil {
				return err
			}

			var req *interp.Request
			if len(args) > 0 {
				if req, err = interp.ParseRequest(args[0]); err != nil {
					return err
				}
			}
			in, err := d.Install(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, in.Platform.ConsoleShebang)
			return nil
		},
	}
	argparserPython.AddCommand(cmd)
}
