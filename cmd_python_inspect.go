package main

import (
	"encoding/base64"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pyinspect"
)

func init() {
	cmd := &cobra.Command{
		Use:   "inspect [flags] [INTERPRETER_CMDLINE...] >PYTHON_PLATFORM.yml",
		Short: "Dump information about a Python installation",
		Long: "Inspect a Python installation by executing it, and dump information " +
			"about it for consumption by `pyrun wheel install --platform=`.  The " +
			"output also includes some informative fields that are not used by " +
			"`pyrun wheel install`." +
			"\n\n" +
			"The default is to inspect \"python3\".  A single argument names an " +
			"interpreter to look up and inspect; multiple arguments are taken as a " +
			"full command line (\"ssh build-box python3\", say) whose last word must " +
			"behave like a Python interpreter.",
		Args: cliutil.WrapPositionalArgs(cobra.ArbitraryArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var out struct {
				python.Platform `yaml:",inline"`

				// Informative.
				Markers map[string]string
			}

			switch len(args) {
			case 0, 1:
				interpreter := "python3"
				if len(args) == 1 {
					interpreter = args[0]
				}
				plat, dyn, err := pyinspect.Describe(ctx, pyinspect.NativeFS{}, interpreter)
				if err != nil {
					return err
				}
				out.Platform = *plat
				out.Markers = dyn.Markers
			default:
				// A multi-word command line may reach an interpreter on
				// some other machine; sys.executable there is the only
				// path worth reporting.
				dyn, err := pyinspect.Dynamic(ctx, args...)
				if err != nil {
					return err
				}
				magic, err := base64.StdEncoding.DecodeString(dyn.MagicNumberB64)
				if err != nil {
					return err
				}
				out.Platform = python.Platform{
					ConsoleShebang:   dyn.Executable,
					GraphicalShebang: dyn.Executable,
					Implementation:   dyn.Implementation,
					Scheme:           dyn.Scheme,
					VersionInfo:      &dyn.VersionInfo,
					MagicNumber:      magic,
					Tags:             dyn.Tags,
				}
				out.Markers = dyn.Markers
			}
			if err := out.Platform.Init(); err != nil {
				return err
			}

			bs, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(bs); err != nil {
				return err
			}
			return nil
		},
	}
	argparserPython.AddCommand(cmd)
}
