package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/cliutil"
	"github.com/datawire/pyrun/pkg/python/interp"
	"github.com/datawire/pyrun/pkg/python/pep723"
)

func init() {
	var flags struct {
		Script string
		Python string
	}
	cmd := &cobra.Command{
		Use:   "init [flags] --script=SCRIPT.py",
		Short: "Create a new script with an inline metadata block",
		Long: "Create a Python script that declares its own dependencies: a metadata " +
			"block with an empty dependency list, requires-python set from the " +
			"interpreter that the --python request resolves to, and a hello-world " +
			"body.  Refuses to overwrite an existing file.",
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
			var req *interp.Request
			if flags.Python != "" {
				if req, err = interp.ParseRequest(flags.Python); err != nil {
					return err
				}
			}
			in, err := d.Find(ctx, req)
			if err != nil {
				return err
			}
			requires := fmt.Sprintf(">=%d.%d", in.Platform.VersionInfo.Major, in.Platform.VersionInfo.Minor)

			content := pep723.FormatBlock(pep723.BlockTypeScript,
				fmt.Sprintf("requires-python = %q\ndependencies = []\n", requires)) +
				fmt.Sprintf(`

def main() -> None:
    print("Hello from %s!")


if __name__ == "__main__":
    main()
`, filepath.Base(flags.Script))

			file, err := os.OpenFile(flags.Script, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				if errors.Is(err, fs.ErrExist) {
					return fmt.Errorf("%q already exists", flags.Script)
				}
				return err
			}
			if _, err := file.WriteString(content); err != nil {
				_ = file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			dlog.Infof(ctx, "initialized script at %q (requires-python = %q)", flags.Script, requires)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Script, "script", "", "The script `FILE` to create")
	if err := cmd.MarkFlagRequired("script"); err != nil {
		panic(err)
	}
	cmd.Flags().StringVar(&flags.Python, "python", "",
		"The Python `VERSION` to target: \"3\", \"3.12\", \"3.12.1\", or a specifier set like \">=3.10\"")

	argparser.AddCommand(cmd)
}
