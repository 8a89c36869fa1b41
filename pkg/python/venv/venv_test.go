// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package venv_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pep425"
	"github.com/datawire/pyrun/pkg/python/venv"
)

func basePlatform(t *testing.T) *python.Platform {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "python3.11")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	tag, err := pep425.ParseTag("cp311-cp311-manylinux_2_17_x86_64")
	require.NoError(t, err)
	return &python.Platform{
		ConsoleShebang:   exe,
		GraphicalShebang: exe,
		Implementation:   "cpython",
		Scheme: python.Scheme{
			PureLib: filepath.Join(dir, "lib", "python3.11", "site-packages"),
			PlatLib: filepath.Join(dir, "lib", "python3.11", "site-packages"),
			Headers: filepath.Join(dir, "include", "python3.11"),
			Scripts: filepath.Join(dir, "bin"),
			Data:    dir,
		},
		VersionInfo: &python.VersionInfo{Major: 3, Minor: 11, Micro: 4, ReleaseLevel: "final"},
		MagicNumber: []byte{0xa7, 0x0d, 0x0d, 0x0a},
		Tags:        pep425.Installer{tag},
	}
}

func TestCreate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test asserts the POSIX environment layout")
	}
	ctx := dlog.NewTestContext(t, true)
	base := basePlatform(t)
	envDir := filepath.Join(t.TempDir(), "env")

	env, err := venv.Create(ctx, envDir, base)
	require.NoError(t, err)
	require.NoError(t, env.Init())

	cfg, err := os.ReadFile(filepath.Join(envDir, "pyvenv.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "home = "+filepath.Dir(base.ConsoleShebang)+"\n")
	assert.Contains(t, string(cfg), "include-system-site-packages = false\n")
	assert.Contains(t, string(cfg), "version = 3.11.4\n")

	target, err := os.Readlink(filepath.Join(envDir, "bin", "python"))
	require.NoError(t, err)
	assert.Equal(t, base.ConsoleShebang, target)
	for _, alias := range []string{"python3", "python3.11"} {
		target, err := os.Readlink(filepath.Join(envDir, "bin", alias))
		if assert.NoError(t, err) {
			assert.Equal(t, "python", target)
		}
	}

	assert.Equal(t, filepath.Join(envDir, "bin", "python"), env.ConsoleShebang)
	assert.Equal(t, filepath.Join(envDir, "lib", "python3.11", "site-packages"), env.Scheme.PureLib)
	assert.Equal(t, env.Scheme.PureLib, env.Scheme.PlatLib)
	assert.Equal(t, filepath.Join(envDir, "bin"), env.Scheme.Scripts)
	assert.Equal(t, envDir, env.Scheme.Data)
	assert.DirExists(t, env.Scheme.PureLib)

	assert.Equal(t, base.VersionInfo, env.VersionInfo)
	assert.Equal(t, base.MagicNumber, env.MagicNumber)
	assert.Equal(t, base.Tags, env.Tags)
}

func TestCreateNoVersion(t *testing.T) {
	ctx := dlog.NewTestContext(t, true)
	_, err := venv.Create(ctx, filepath.Join(t.TempDir(), "env"), &python.Platform{})
	assert.ErrorContains(t, err, "no version info")
}

func TestEnsure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test asserts the POSIX environment layout")
	}
	ctx := dlog.NewTestContext(t, true)
	base := basePlatform(t)
	c := cache.Cache{RootDir: t.TempDir()}
	key := "0123456789abcdef"

	builds := 0
	build := func(_ context.Context, env *python.Platform) error {
		builds++
		return os.WriteFile(filepath.Join(env.Scheme.PureLib, "mod.py"), []byte("x = 1\n"), 0o644)
	}

	env, err := venv.Ensure(ctx, c, key, base, false, build)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
	assert.FileExists(t, filepath.Join(env.Scheme.PureLib, "mod.py"))

	stamp, err := venv.ReadStamp(c.EnvDir(key))
	require.NoError(t, err)
	assert.Equal(t, key, stamp.Key)
	assert.Equal(t, base.ConsoleShebang, stamp.Python)
	assert.Equal(t, "3.11.4", stamp.Version)

	// A second Ensure reuses the environment without calling build.
	env2, err := venv.Ensure(ctx, c, key, base, false, build)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
	assert.Equal(t, env, env2)

	// force discards and rebuilds.
	_, err = venv.Ensure(ctx, c, key, base, true, build)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
}

func TestEnsureBaseChanged(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test asserts the POSIX environment layout")
	}
	ctx := dlog.NewTestContext(t, true)
	c := cache.Cache{RootDir: t.TempDir()}
	key := "cafebabecafebabe"

	builds := 0
	build := func(_ context.Context, _ *python.Platform) error {
		builds++
		return nil
	}

	base := basePlatform(t)
	_, err := venv.Ensure(ctx, c, key, base, false, build)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)

	// The same key with the same base reuses; the same key with a base
	// interpreter at a different path (replaced or moved since the stamp
	// was written) rebuilds, since the environment's symlinks point at the
	// old executable.
	_, err = venv.Ensure(ctx, c, key, base, false, build)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)

	moved := basePlatform(t)
	require.NotEqual(t, base.ConsoleShebang, moved.ConsoleShebang)
	_, err = venv.Ensure(ctx, c, key, moved, false, build)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	target, err := os.Readlink(filepath.Join(c.EnvDir(key), "bin", "python"))
	require.NoError(t, err)
	assert.Equal(t, moved.ConsoleShebang, target)
}

func TestEnsureInterrupted(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test asserts the POSIX environment layout")
	}
	ctx := dlog.NewTestContext(t, true)
	base := basePlatform(t)
	c := cache.Cache{RootDir: t.TempDir()}
	key := "feedfacefeedface"

	_, err := venv.Ensure(ctx, c, key, base, false,
		func(_ context.Context, _ *python.Platform) error {
			return fmt.Errorf("simulated install failure")
		})
	require.Error(t, err)

	// The failed build left no stamp, so the next Ensure starts over.
	_, err = venv.ReadStamp(c.EnvDir(key))
	assert.Error(t, err)

	builds := 0
	_, err = venv.Ensure(ctx, c, key, base, false,
		func(_ context.Context, _ *python.Platform) error {
			builds++
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
}
