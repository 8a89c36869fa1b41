// Package pep376 implements the REQUESTED metadata of PEP 376 -- Database of Installed Python
// Distributions.
//
// https://packaging.python.org/en/latest/specifications/recording-installed-packages/
package pep376

import (
	"context"
	"os"
	"path/filepath"

	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
)

// RecordRequested returns a bdist.PostInstallHook that creates the REQUESTED
// marker file in the .dist-info directory.  The marker argument may be empty,
// or may be a marker comment line beginning with the "#" character.
//
// Install a package WITHOUT this hook when the package is being installed
// automatically as a dependency of another package, rather than by direct
// user request; an uninstaller can then alert the user to orphaned
// dependencies.
func RecordRequested(marker string) bdist.PostInstallHook {
	return func(_ context.Context, inst *bdist.Install) error {
		content := []byte{}
		if marker != "" {
			content = []byte(marker + "\n")
		}
		filename := filepath.Join(inst.DistInfoDir, "REQUESTED")
		if err := os.WriteFile(filename, content, 0o644); err != nil {
			return err
		}
		inst.Files = append(inst.Files, filename)
		return nil
	}
}
