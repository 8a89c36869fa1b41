// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pyinspect

import (
	"io/fs"
	"path/filepath"

	"github.com/datawire/dlib/dexec"
)

type NativeFS struct{}

var _ FS = NativeFS{}

func (NativeFS) Split(path string) (dir, file string) { return filepath.Split(path) }
func (NativeFS) Join(elem ...string) string           { return filepath.Join(elem...) }

func (NativeFS) LookPath(file string) (string, error) {
	val, err := dexec.LookPath(file)
	if err != nil {
		//nolint:errorlint // We don't want to discard wrappers (except dexec.Error itself).
		if eerr, ok := err.(*dexec.Error); ok {
			err = &fs.PathError{
				Op:   "lookpath",
				Path: file,
				Err:  eerr.Err,
			}
		}
	}
	return val, err
}
