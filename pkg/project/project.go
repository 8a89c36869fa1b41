// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package project discovers the Python project (if any) enclosing a
// directory.
//
// pyrun never installs a project; scripts run standalone even inside a
// project checkout.  Discovery exists so that commands can tell the user that
// an enclosing project is being ignored.
package project

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// A Project is a directory with a pyproject.toml in it.
type Project struct {
	Dir  string // the project directory
	File string // Dir/pyproject.toml

	// RequiresPython is the `[project] requires-python` value, if the file
	// has one.  A pyproject.toml that does not decode still marks a
	// project; RequiresPython is then empty.
	RequiresPython string
}

// Discover walks from startDir upward and returns the first directory
// holding a pyproject.toml, or nil if no parent holds one.
func Discover(startDir string) (*Project, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		file := filepath.Join(dir, "pyproject.toml")
		if _, err := os.Stat(file); err == nil {
			ret := &Project{
				Dir:  dir,
				File: file,
			}
			var doc struct {
				Project struct {
					RequiresPython string `toml:"requires-python"`
				} `toml:"project"`
			}
			if _, err := toml.DecodeFile(file, &doc); err == nil {
				ret.RequiresPython = doc.Project.RequiresPython
			}
			return ret, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
