// Package entry_points implements the PyPA Entry points specification.
//
// https://packaging.python.org/en/latest/specifications/entry-points/
package entry_points

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
)

// scriptTmpl is the script wrapper that pip generates for each entry point in
// the "console_scripts" and "gui_scripts" groups; see
// `pip/_vendor/distlib/scripts.py:ScriptMaker.template`.
//
//nolint:gochecknoglobals // Would be 'const'.
var scriptTmpl = template.Must(template.
	New("entry_point.py").
	Parse(`#!{{ .Shebang }}
# -*- coding: utf-8 -*-
import re
import sys
from {{ .Module }} import {{ .ImportName }}
if __name__ == '__main__':
    sys.argv[0] = re.sub(r'(-script\.pyw|\.exe)?$', '', sys.argv[0])
    sys.exit({{ .Func }}())
`))

// parseObjectRef parses an entry point "object reference"; either
// "importable.module" or "importable.module:object.attr", optionally followed
// by a bracketed extras list (a syntax that the spec tells installers to
// tolerate but ignore).
func parseObjectRef(val string) (module, attrs string, err error) {
	ref := strings.TrimSpace(strings.SplitN(val, "[", 2)[0])
	parts := strings.SplitN(ref, ":", 2)
	module = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		attrs = strings.TrimSpace(parts[1])
	}
	if module == "" {
		return "", "", fmt.Errorf("invalid entry point object reference: %q", val)
	}
	return module, attrs, nil
}

// CreateScripts is a bdist.PostInstallHook that generates script wrappers for
// the installed package's "console_scripts" and "gui_scripts" entry points,
// the same way that pip does.  Generated scripts overwrite any same-named
// script that the wheel installed from its ".data/scripts/" directory.
func CreateScripts(ctx context.Context, inst *bdist.Install) error {
	configBytes, err := os.ReadFile(filepath.Join(inst.DistInfoDir, "entry_points.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	configParser := &python.ConfigParser{}
	configData, err := configParser.Parse(bytes.NewReader(configBytes))
	if err != nil {
		return err
	}

	interesting := []struct {
		SectionName string
		Shebang     string
	}{
		{"console_scripts", inst.Plat.ConsoleShebang},
		{"gui_scripts", inst.Plat.GraphicalShebang},
	}

	for _, section := range interesting {
		sectionData, ok := configData[section.SectionName]
		if !ok {
			continue
		}
		names := make([]string, 0, len(sectionData))
		for name := range sectionData {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			module, attrs, err := parseObjectRef(sectionData[name])
			if err == nil && attrs == "" {
				// A script wrapper has to have something to call.
				err = fmt.Errorf("entry point object reference does not name an attribute: %q",
					sectionData[name])
			}
			if err != nil {
				return fmt.Errorf("%s: %s: %w", section.SectionName, name, err)
			}
			var buf bytes.Buffer
			if err := scriptTmpl.Execute(&buf, map[string]string{
				"Shebang":    section.Shebang,
				"Module":     module,
				"ImportName": strings.SplitN(attrs, ".", 2)[0],
				"Func":       attrs,
			}); err != nil {
				return fmt.Errorf("%s: %s: %w", section.SectionName, name, err)
			}
			scriptName := filepath.Join(inst.Plat.Scheme.Scripts, name)
			if err := os.MkdirAll(filepath.Dir(scriptName), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(scriptName, buf.Bytes(), 0o755); err != nil {
				return err
			}
			if err := os.Chmod(scriptName, 0o755); err != nil {
				return err
			}
			recordInstalledFile(inst, scriptName)
		}
	}
	return nil
}

func recordInstalledFile(inst *bdist.Install, filename string) {
	for _, already := range inst.Files {
		if already == filename {
			return
		}
	}
	inst.Files = append(inst.Files, filename)
}
