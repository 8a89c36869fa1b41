// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package interp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/python/pyinspect"
)

const (
	// EnvPython names an interpreter to try before searching $PATH.
	EnvPython = "PYRUN_PYTHON"
	// EnvPythonDownloads overrides the Downloads policy.
	EnvPythonDownloads = "PYRUN_PYTHON_DOWNLOADS"
)

// A DownloadPolicy says when pyrun may download a managed interpreter build.
type DownloadPolicy string

const (
	// DownloadAutomatic downloads a build whenever no installed
	// interpreter satisfies a request.
	DownloadAutomatic DownloadPolicy = "automatic"
	// DownloadManual only downloads for an explicit `pyrun python
	// install`.
	DownloadManual DownloadPolicy = "manual"
	// DownloadNever never downloads.
	DownloadNever DownloadPolicy = "never"
)

func ParseDownloadPolicy(str string) (DownloadPolicy, error) {
	switch DownloadPolicy(str) {
	case "":
		return DownloadAutomatic, nil
	case DownloadAutomatic, DownloadManual, DownloadNever:
		return DownloadPolicy(str), nil
	default:
		return "", fmt.Errorf("invalid python-downloads setting: %q (valid settings are %q, %q, and %q)",
			str, DownloadAutomatic, DownloadManual, DownloadNever)
	}
}

// Discovery finds interpreters and (policy permitting) installs managed ones.
type Discovery struct {
	Cache      cache.Cache
	Downloads  DownloadPolicy
	HTTPClient *http.Client
	BaseURL    string // base URL for python-build-standalone release assets
}

func (d *Discovery) fillDefaults() {
	if d.Downloads == "" {
		d.Downloads = DownloadAutomatic
	}
	if d.HTTPClient == nil {
		d.HTTPClient = http.DefaultClient
	}
	if d.BaseURL == "" {
		d.BaseURL = DefaultBaseURL
	}
}

//nolint:gochecknoglobals // Would be 'const'.
var rePythonName = regexp.MustCompile(`^python([0-9]+(\.[0-9]+)?)?$`)

// List returns the interpreters on $PATH followed by pyrun's managed
// installs.  Multiple names resolving to the same file (python3 is usually a
// symlink to python3.X) are reported once, under the first name found.
// Candidates that cannot be introspected are skipped with a log message.
func (d Discovery) List(ctx context.Context) []*Interp {
	d.fillDefaults()
	var ret []*Interp
	seen := make(map[string]struct{})

	consider := func(cmd string, managed bool) {
		exePath, err := (pyinspect.NativeFS{}).LookPath(cmd)
		if err != nil {
			dlog.Debugf(ctx, "interp: skipping %q: %v", cmd, err)
			return
		}
		realPath, err := filepath.EvalSymlinks(exePath)
		if err != nil {
			realPath = exePath
		}
		if _, dup := seen[realPath]; dup {
			return
		}
		seen[realPath] = struct{}{}
		in, err := d.inspect(ctx, exePath)
		if err != nil {
			dlog.Warnf(ctx, "interp: skipping %q: %v", cmd, err)
			return
		}
		in.Cmd = cmd
		in.Managed = managed
		ret = append(ret, in)
	}

	for _, dir := range filepath.SplitList(os.Getenv("PATH")) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		var names []string
		for _, entry := range entries {
			name := entry.Name()
			if runtime.GOOS == "windows" {
				name = strings.TrimSuffix(name, ".exe")
			}
			if rePythonName.MatchString(name) {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			consider(filepath.Join(dir, name), false)
		}
	}

	if entries, err := os.ReadDir(d.Cache.PythonsDir()); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			consider(managedExe(filepath.Join(d.Cache.PythonsDir(), entry.Name())), true)
		}
	}

	return ret
}

// managedExe returns the interpreter executable inside a managed install
// directory.
func managedExe(installDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(installDir, "python.exe")
	}
	return filepath.Join(installDir, "bin", "python3")
}

// betterThan says whether in should be picked over other when both satisfy a
// request: a system install beats a managed one, then the newer version
// wins.  Ties keep whichever was discovered first.
func (in *Interp) betterThan(other *Interp) bool {
	if in.Managed != other.Managed {
		return !in.Managed
	}
	return in.Version.Cmp(other.Version) > 0
}

// Find returns the interpreter to use for the given request: $PYRUN_PYTHON
// if it satisfies the request, else the best satisfying installed
// interpreter, else (if the download policy allows) a freshly-downloaded
// managed build.
func (d Discovery) Find(ctx context.Context, req *Request) (*Interp, error) {
	d.fillDefaults()

	if env := os.Getenv(EnvPython); env != "" {
		in, err := func() (*Interp, error) {
			exePath, err := (pyinspect.NativeFS{}).LookPath(env)
			if err != nil {
				return nil, err
			}
			return d.inspect(ctx, exePath)
		}()
		if err != nil {
			return nil, fmt.Errorf("$%s: %w", EnvPython, err)
		}
		if req.Matches(in.Version) {
			in.Cmd = env
			return in, nil
		}
		dlog.Warnf(ctx, "ignoring $%s=%q: Python %s does not satisfy %q",
			EnvPython, env, in.Version, req)
	}

	var best *Interp
	for _, in := range d.List(ctx) {
		if !req.Matches(in.Version) {
			continue
		}
		if best == nil || in.betterThan(best) {
			best = in
		}
	}
	if best != nil {
		return best, nil
	}

	if d.Downloads == DownloadAutomatic {
		return d.Install(ctx, req)
	}
	if reqStr := req.String(); reqStr != "" {
		return nil, fmt.Errorf("no interpreter found for Python %q (and python-downloads is set to %q)",
			reqStr, d.Downloads)
	}
	return nil, fmt.Errorf("no Python interpreter found (and python-downloads is set to %q)", d.Downloads)
}
