// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package venv creates Python virtual environments natively, without running
// `python -m venv`.
//
// An environment is a directory with a pyvenv.cfg pointing back at the base
// interpreter, a bin/python symlink (Scripts\python.exe on Windows), and
// empty install-scheme directories; the interpreter itself discovers all of
// that at startup, so no Python needs to run to create one.
package venv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/datawire/dlib/dlog"
	"github.com/google/renameio/v2"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/python"
)

// envPlatform returns the Platform that an environment at dirname has (or
// will have, once created) for the given base interpreter.
func envPlatform(dirname string, base *python.Platform) *python.Platform {
	pyver := fmt.Sprintf("python%d.%d", base.VersionInfo.Major, base.VersionInfo.Minor)
	var console, graphical string
	var scheme python.Scheme
	if runtime.GOOS == "windows" {
		console = filepath.Join(dirname, "Scripts", "python.exe")
		graphical = filepath.Join(dirname, "Scripts", "pythonw.exe")
		scheme = python.Scheme{
			PureLib: filepath.Join(dirname, "Lib", "site-packages"),
			PlatLib: filepath.Join(dirname, "Lib", "site-packages"),
			Headers: filepath.Join(dirname, "Include", "site", pyver),
			Scripts: filepath.Join(dirname, "Scripts"),
			Data:    dirname,
		}
	} else {
		console = filepath.Join(dirname, "bin", "python")
		graphical = console
		if base.GraphicalShebang != base.ConsoleShebang {
			graphical = filepath.Join(dirname, "bin", "pythonw")
		}
		scheme = python.Scheme{
			PureLib: filepath.Join(dirname, "lib", pyver, "site-packages"),
			PlatLib: filepath.Join(dirname, "lib", pyver, "site-packages"),
			Headers: filepath.Join(dirname, "include", "site", pyver),
			Scripts: filepath.Join(dirname, "bin"),
			Data:    dirname,
		}
	}
	return &python.Platform{
		ConsoleShebang:   console,
		GraphicalShebang: graphical,
		Implementation:   base.Implementation,
		Scheme:           scheme,
		VersionInfo:      base.VersionInfo,
		MagicNumber:      base.MagicNumber,
		Tags:             base.Tags,
	}
}

// installInterpreter puts the interpreter in to the environment: symlinks on
// POSIX (python -> base executable; python3 and pythonX.Y -> python, same as
// the venv module makes), file copies on Windows.
func installInterpreter(env, base *python.Platform) error {
	binDir := filepath.Dir(env.ConsoleShebang)
	if runtime.GOOS == "windows" {
		if err := copyFile(base.ConsoleShebang, env.ConsoleShebang); err != nil {
			return err
		}
		if base.GraphicalShebang != base.ConsoleShebang {
			return copyFile(base.GraphicalShebang, env.GraphicalShebang)
		}
		return nil
	}
	pyver := fmt.Sprintf("python%d.%d", base.VersionInfo.Major, base.VersionInfo.Minor)
	if err := os.Symlink(base.ConsoleShebang, filepath.Join(binDir, "python")); err != nil {
		return err
	}
	for _, alias := range []string{"python3", pyver} {
		if err := os.Symlink("python", filepath.Join(binDir, alias)); err != nil {
			return err
		}
	}
	if base.GraphicalShebang != base.ConsoleShebang {
		if err := os.Symlink(base.GraphicalShebang, filepath.Join(binDir, "pythonw")); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(srcName, dstName string) error {
	src, err := os.Open(srcName)
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()
	dst, err := os.OpenFile(dstName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// Create materializes a virtual environment at dirname for the given base
// interpreter, and returns the environment's own Platform.
func Create(ctx context.Context, dirname string, base *python.Platform) (*python.Platform, error) {
	if base.VersionInfo == nil {
		return nil, fmt.Errorf("venv.Create: base platform has no version info")
	}
	dirname, err := filepath.Abs(dirname)
	if err != nil {
		return nil, err
	}
	dlog.Debugf(ctx, "venv: creating environment at %q", dirname)

	env := envPlatform(dirname, base)
	for _, dir := range []string{
		filepath.Dir(env.ConsoleShebang),
		env.Scheme.PureLib,
		env.Scheme.Headers,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	cfg := fmt.Sprintf("home = %s\ninclude-system-site-packages = false\nversion = %s\nexecutable = %s\n",
		filepath.Dir(base.ConsoleShebang), base.VersionInfo, base.ConsoleShebang)
	if err := renameio.WriteFile(filepath.Join(dirname, "pyvenv.cfg"), []byte(cfg), 0o644); err != nil {
		return nil, err
	}

	if err := installInterpreter(env, base); err != nil {
		return nil, err
	}
	return env, nil
}

// A Stamp marks an environment as completely built, and records what it was
// built from.  An environment directory without one is a partial build and
// gets rebuilt.
type Stamp struct {
	Key     string `json:"key"`
	Python  string `json:"python"`
	Version string `json:"version"`
}

const stampFile = "pyrun-env.json"

func WriteStamp(dirname string, stamp Stamp) error {
	bs, err := json.Marshal(stamp)
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(dirname, stampFile), bs, 0o644)
}

func ReadStamp(dirname string) (*Stamp, error) {
	bs, err := os.ReadFile(filepath.Join(dirname, stampFile))
	if err != nil {
		return nil, err
	}
	var stamp Stamp
	if err := json.Unmarshal(bs, &stamp); err != nil {
		return nil, err
	}
	return &stamp, nil
}

// Ensure returns the Platform of a ready environment for the given key,
// building the environment if there isn't one yet.  build is called to
// install packages in to a fresh environment; the completion stamp is only
// written after build succeeds, so an interrupted build is rebuilt on the
// next call rather than reused.  An environment stamped for a different base
// interpreter (the executable was moved or replaced since the stamp was
// written) is also rebuilt.  force discards any existing environment.
func Ensure(
	ctx context.Context,
	c cache.Cache,
	key string,
	base *python.Platform,
	force bool,
	build func(context.Context, *python.Platform) error,
) (*python.Platform, error) {
	envDir := c.EnvDir(key)
	if !force && base.VersionInfo != nil {
		if stamp, err := ReadStamp(envDir); err == nil &&
			stamp.Key == key &&
			stamp.Python == base.ConsoleShebang &&
			stamp.Version == base.VersionInfo.String() {
			dlog.Debugf(ctx, "venv: reusing environment %q", envDir)
			return envPlatform(envDir, base), nil
		}
	}

	if err := os.RemoveAll(envDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(c.EnvsDir(), 0o755); err != nil {
		return nil, err
	}
	env, err := Create(ctx, envDir, base)
	if err != nil {
		return nil, err
	}
	if err := build(ctx, env); err != nil {
		return nil, err
	}
	if err := WriteStamp(envDir, Stamp{
		Key:     key,
		Python:  base.ConsoleShebang,
		Version: base.VersionInfo.String(),
	}); err != nil {
		return nil, err
	}
	return env, nil
}
