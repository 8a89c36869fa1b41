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
		Use:   "find [flags] [VERSION]",
		Short: "Print the interpreter that a version request resolves to",
		Long: "Print the path of the interpreter that pyrun would run a script under.  " +
			"VERSION is a version request: \"3\", \"3.12\", \"3.12.1\", or a PEP 440 " +
			"specifier set like \">=3.10,<3.13\"; without one, any interpreter " +
			"satisfies.",
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
			// find only reports; it must never install.
			if d.Downloads == interp.DownloadAutomatic {
				d.Downloads = interp.DownloadManual
			}

			var req *interp.Request
			if len(args) > 0 {
				if req, err = interp.ParseRequest(args[0]); err != nil {
					return err
				}
			}
			in, err := d.Find(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, in.Platform.ConsoleShebang)
			return nil
		},
	}
	argparserPython.AddCommand(cmd)
}
