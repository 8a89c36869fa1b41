package python

import (
	"context"
	"errors"

	"github.com/datawire/dlib/dexec"
)

// CompileAll byte-compiles the .py files under the given directories using the
// interpreter's "compileall" module, the same as `pip install` does when asked
// to compile.
//
// compileall exits nonzero if any single file fails to compile; a wheel may
// legitimately ship sources that don't compile on the target Python, so (like
// pip) that is tolerated.  Failing to launch the interpreter at all is still
// an error.
func CompileAll(ctx context.Context, interpreter string, dirs ...string) error {
	if len(dirs) == 0 {
		return nil
	}
	args := []string{"-m", "compileall", "-q"}
	args = append(args, dirs...)
	cmd := dexec.CommandContext(ctx, interpreter, args...)
	if err := cmd.Run(); err != nil {
		var exitErr *dexec.ExitError
		if !errors.As(err, &exitErr) {
			return err
		}
	}
	return nil
}
