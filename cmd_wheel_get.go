package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/python/pep508"
	"github.com/datawire/pyrun/pkg/python/pep723"
)

func init() {
	var flags struct {
		IndexURL string
		Python   string
	}
	cmd := &cobra.Command{
		Use:   "get [flags] REQUIREMENT >NAME_VERSION_PLATFORM.whl",
		Short: "Download the best wheel for a requirement",
		Long: "Given a PEP 508 requirement like 'requests<3', pick the best matching " +
			"wheel from the package index and write its contents to stdout.  " +
			"Selection honors the target interpreter's compatibility tags, so this " +
			"is the same wheel that `pyrun run` would install." +
			"\n\n" +
			"LIMITATION: While checksums are verified, GPG signatures are not.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			req, err := pep508.ParseRequirement(args[0])
			if err != nil {
				return err
			}
			if req.URL != "" {
				return fmt.Errorf("%q names a URL; `wheel get` selects from the package index", args[0])
			}

			c, err := cache.Open()
			if err != nil {
				return err
			}
			d, err := newDiscovery(c)
			if err != nil {
				return err
			}
			md := &pep723.Metadata{}
			in, err := findInterpreter(ctx, d, flags.Python, md)
			if err != nil {
				return err
			}
			res, err := newResolver(c, in, flags.IndexURL, md)
			if err != nil {
				return err
			}

			link, err := res.Client.SelectWheel(ctx, req.Name, req.Specifier)
			if err != nil {
				return err
			}
			content, err := link.Get(ctx)
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(content); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.IndexURL, "index-url", "",
		"Base `URL` of the package index (default $"+EnvIndexURL+", then PyPI)")
	cmd.Flags().StringVar(&flags.Python, "python", "",
		"The Python `VERSION` to select the wheel for (default: any discovered interpreter)")

	argparserWheel.AddCommand(cmd)
}
