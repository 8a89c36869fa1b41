// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package cache locates pyrun's on-disk cache and hands out paths inside it.
//
// The layout under the cache root is:
//
//	envs/<key>/             script environments, keyed by resolved inputs
//	wheels/<hash>/<name>    downloaded wheel files, keyed by checksum
//	pythons/<build>/        managed interpreter installs
//	interps/<hash>.json     interpreter introspection results
//	resolutions/<key>.lock  recorded resolutions, keyed by resolution inputs
package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
)

const EnvCacheDir = "PYRUN_CACHE_DIR"

// Dir returns the cache root directory, without creating it.  $PYRUN_CACHE_DIR
// wins; otherwise it is the "pyrun" subdirectory of the platform cache
// directory (${XDG_CACHE_HOME:-~/.cache} on most systems).
func Dir() (string, error) {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return filepath.Abs(dir)
	}
	userDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userDir, "pyrun"), nil
}

// A Cache is a handle to the cache directory.  The zero value is not useful;
// use Open.
type Cache struct {
	RootDir string
}

// Open returns a handle to the cache rooted at the directory that Dir
// reports.  The directory is not created until something is stored in it.
func Open() (Cache, error) {
	rootDir, err := Dir()
	if err != nil {
		return Cache{}, err
	}
	return Cache{RootDir: rootDir}, nil
}

func (c Cache) EnvsDir() string        { return filepath.Join(c.RootDir, "envs") }
func (c Cache) WheelsDir() string      { return filepath.Join(c.RootDir, "wheels") }
func (c Cache) PythonsDir() string     { return filepath.Join(c.RootDir, "pythons") }
func (c Cache) InterpsDir() string     { return filepath.Join(c.RootDir, "interps") }
func (c Cache) ResolutionsDir() string { return filepath.Join(c.RootDir, "resolutions") }

// EnvDir returns the directory for the environment with the given key.
func (c Cache) EnvDir(key string) string {
	return filepath.Join(c.EnvsDir(), key)
}

// ResolutionFile returns the path at which the resolution with the given key
// is (to be) recorded.
func (c Cache) ResolutionFile(key string) string {
	return filepath.Join(c.ResolutionsDir(), key+".lock")
}

// WheelFile returns the path at which the wheel with the given checksum and
// filename is (to be) stored.
func (c Cache) WheelFile(hexdigest, filename string) string {
	return filepath.Join(c.WheelsDir(), hexdigest, filename)
}

// Clean removes the entire cache.
func (c Cache) Clean(ctx context.Context) error {
	if _, err := os.Stat(c.RootDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			dlog.Infof(ctx, "cache %q does not exist; nothing to clean", c.RootDir)
			return nil
		}
		return err
	}
	dlog.Infof(ctx, "removing cache %q", c.RootDir)
	return os.RemoveAll(c.RootDir)
}
