// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package interp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
	"github.com/google/renameio/v2"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pyinspect"
)

// An Interp is a discovered Python interpreter.
type Interp struct {
	// Cmd is the name by which the interpreter was discovered; Platform
	// has the resolved executable paths.
	Cmd string
	// Managed is whether this is an install that pyrun itself put in the
	// cache.
	Managed bool

	Version  pep440.Version
	Platform python.Platform
	Dynamic  pyinspect.DynamicInfo
}

// introspection is the on-disk cache record for one interpreter executable.
// MTime and Size identify the executable build that the record describes.
type introspection struct {
	MTimeUnixNano int64
	Size          int64
	Platform      python.Platform
	Dynamic       pyinspect.DynamicInfo
}

// inspect runs the interpreter at exePath and reports what it finds,
// consulting and maintaining the on-disk cache so that each interpreter
// build is only ever executed once.
func (d Discovery) inspect(ctx context.Context, exePath string) (*Interp, error) {
	fi, err := os.Stat(exePath)
	if err != nil {
		return nil, err
	}

	pathSum := sha256.Sum256([]byte(exePath))
	cacheFile := filepath.Join(d.Cache.InterpsDir(), hex.EncodeToString(pathSum[:])+".json")

	var record introspection
	if bs, err := os.ReadFile(cacheFile); err == nil {
		if json.Unmarshal(bs, &record) == nil &&
			record.MTimeUnixNano == fi.ModTime().UnixNano() &&
			record.Size == fi.Size() {
			return d.newInterp(exePath, record)
		}
	}

	plat, dyn, err := pyinspect.Describe(ctx, pyinspect.NativeFS{}, exePath)
	if err != nil {
		return nil, err
	}
	record = introspection{
		MTimeUnixNano: fi.ModTime().UnixNano(),
		Size:          fi.Size(),
		Platform:      *plat,
		Dynamic:       *dyn,
	}

	// Caching is best-effort; a read-only cache dir shouldn't break
	// discovery.
	if bs, err := json.Marshal(record); err == nil {
		if err := os.MkdirAll(d.Cache.InterpsDir(), 0o755); err == nil {
			if err := renameio.WriteFile(cacheFile, bs, 0o644); err != nil {
				dlog.Debugf(ctx, "interp: could not cache introspection of %q: %v", exePath, err)
			}
		}
	}

	return d.newInterp(exePath, record)
}

func (d Discovery) newInterp(exePath string, record introspection) (*Interp, error) {
	if record.Platform.VersionInfo == nil {
		return nil, fmt.Errorf("interpreter %q did not report a version", exePath)
	}
	ver, err := record.Platform.VersionInfo.PEP440()
	if err != nil {
		return nil, fmt.Errorf("interpreter %q: %w", exePath, err)
	}
	return &Interp{
		Cmd:      exePath,
		Version:  *ver,
		Platform: record.Platform,
		Dynamic:  record.Dynamic,
	}, nil
}
