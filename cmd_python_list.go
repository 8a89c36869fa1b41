package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/cliutil"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the Python interpreters that pyrun can see",
		Long: "List the interpreters on $PATH and the managed interpreters that pyrun " +
			"has installed in its cache, one per line: version, implementation, " +
			"\"system\" or \"managed\", and the executable.",
		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),
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
			for _, in := range d.List(ctx) {
				kind := "system"
				if in.Managed {
					kind = "managed"
				}
				fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\n",
					in.Version, in.Platform.Implementation, kind, in.Cmd)
			}
			return nil
		},
	}
	argparserPython.AddCommand(cmd)
}
