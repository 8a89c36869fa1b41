package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pep376"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
	"github.com/datawire/pyrun/pkg/python/pypa/entry_points"
	"github.com/datawire/pyrun/pkg/python/pypa/recording_installs"
)

func init() {
	var flags struct {
		PlatFile string
		Dest     string
	}
	cmd := &cobra.Command{
		Use:   "install [flags] WHEELFILE.whl",
		Short: "Install a wheel file against a saved platform description",
		Long: "Install a Python wheel without executing any Python: entry-point " +
			"scripts, RECORD, INSTALLER, and the rest are generated from a " +
			"description of the target installation rather than by asking an " +
			"interpreter.  Point --platform at a YAML file as written by " +
			"`pyrun python inspect`:" +
			"\n\n" +
			"    ConsoleShebang: /usr/bin/python3.10\n" +
			"    GraphicalShebang: /usr/bin/python3.10\n" +
			"    Implementation: cpython\n" +
			"    Scheme:\n" +
			"      purelib: /usr/lib/python3.10/site-packages\n" +
			"      platlib: /usr/lib/python3.10/site-packages\n" +
			"      headers: /usr/include/site/python3.10\n" +
			"      scripts: /usr/bin\n" +
			"      data: /usr\n" +
			"    VersionInfo: {major: 3, minor: 10, micro: 6, releaselevel: final, serial: 0}\n" +
			"\n" +
			"With --dest, the scheme's absolute paths are taken as relative to that " +
			"directory (DESTDIR-style staging); shebang lines still point at the " +
			"described interpreter, so the tree works once it lands at its real " +
			"location." +
			"\n\n" +
			"LIMITATION: While checksums are verified, signatures are not.",
		Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			yamlBytes, err := os.ReadFile(flags.PlatFile)
			if err != nil {
				return err
			}
			var plat struct {
				python.Platform

				// Emitted by `pyrun python inspect`; not needed here.
				Markers map[string]string
			}
			if err := yaml.Unmarshal(yamlBytes, &plat, yaml.DisallowUnknownFields); err != nil {
				return fmt.Errorf("%s: %w", flags.PlatFile, err)
			}

			if flags.Dest != "" {
				dest, err := filepath.Abs(flags.Dest)
				if err != nil {
					return err
				}
				plat.Scheme = python.Scheme{
					PureLib: filepath.Join(dest, plat.Scheme.PureLib),
					PlatLib: filepath.Join(dest, plat.Scheme.PlatLib),
					Headers: filepath.Join(dest, plat.Scheme.Headers),
					Scripts: filepath.Join(dest, plat.Scheme.Scripts),
					Data:    filepath.Join(dest, plat.Scheme.Data),
				}
			}

			inst, err := bdist.InstallWheel(ctx,
				plat.Platform,
				args[0],
				bdist.PostInstallHooks(
					entry_points.CreateScripts,
					pep376.RecordRequested(""),
					recording_installs.Record("sha256", "pyrun", nil),
				),
			)
			if err != nil {
				return err
			}
			dlog.Infof(ctx, "installed %d files from %q", len(inst.Files), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.PlatFile, "platform", "",
		"Read `PLATFORM_YML` to determine details about the target installation")
	if err := cmd.MarkFlagRequired("platform"); err != nil {
		panic(err)
	}
	cmd.Flags().StringVar(&flags.Dest, "dest", "",
		"Install in to `DIR` instead of at the scheme's real paths")

	argparserWheel.AddCommand(cmd)
}
