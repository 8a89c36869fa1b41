// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pyinspect_test

import (
	"fmt"
	"io/fs"
	"path"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pyrun/pkg/python/pyinspect"
)

// fakeFS maps lookup arguments (both bare command names and absolute paths) to
// resolved paths.
type fakeFS map[string]string

func (f fakeFS) Split(p string) (dir, file string) { return path.Split(p) }
func (f fakeFS) Join(elem ...string) string        { return path.Join(elem...) }
func (f fakeFS) LookPath(file string) (string, error) {
	if resolved, ok := f[file]; ok {
		return resolved, nil
	}
	return "", &fs.PathError{Op: "lookpath", Path: file, Err: fs.ErrNotExist}
}

func TestShebangs(t *testing.T) {
	t.Parallel()
	type testcase struct {
		InputFS         fakeFS
		InputCmd        string
		OutputConsole   string
		OutputGraphical string
		OutputErr       bool
	}
	testcases := map[string]testcase{
		"console-only": {
			InputFS: fakeFS{
				"python3":          "/usr/bin/python3",
				"/usr/bin/python3": "/usr/bin/python3",
			},
			InputCmd:        "python3",
			OutputConsole:   "/usr/bin/python3",
			OutputGraphical: "/usr/bin/python3",
		},
		"with-w": {
			InputFS: fakeFS{
				"python3":           "/usr/bin/python3",
				"/usr/bin/python3":  "/usr/bin/python3",
				"/usr/bin/pythonw3": "/usr/bin/pythonw3",
			},
			InputCmd:        "python3",
			OutputConsole:   "/usr/bin/python3",
			OutputGraphical: "/usr/bin/pythonw3",
		},
		"w-to-console": {
			InputFS: fakeFS{
				"pythonw3":          "/usr/bin/pythonw3",
				"/usr/bin/python3":  "/usr/bin/python3",
				"/usr/bin/pythonw3": "/usr/bin/pythonw3",
			},
			InputCmd:        "pythonw3",
			OutputConsole:   "/usr/bin/python3",
			OutputGraphical: "/usr/bin/pythonw3",
		},
		"w-only": {
			InputFS: fakeFS{
				"pythonw3":          "/usr/bin/pythonw3",
				"/usr/bin/pythonw3": "/usr/bin/pythonw3",
			},
			InputCmd:        "pythonw3",
			OutputConsole:   "/usr/bin/pythonw3",
			OutputGraphical: "/usr/bin/pythonw3",
		},
		"not-found": {
			InputFS:   fakeFS{},
			InputCmd:  "python3",
			OutputErr: true,
		},
	}
	for tcName, tcData := range testcases {
		tcData := tcData
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			console, graphical, err := pyinspect.Shebangs(tcData.InputFS, tcData.InputCmd)
			if tcData.OutputErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tcData.OutputConsole, console)
			assert.Equal(t, tcData.OutputGraphical, graphical)
		})
	}
}

func TestDescribe(t *testing.T) {
	if _, err := (pyinspect.NativeFS{}).LookPath("python3"); err != nil {
		t.Skip("python3 not found in PATH")
	}
	ctx := dlog.NewTestContext(t, true)
	plat, dyn, err := pyinspect.Describe(ctx, pyinspect.NativeFS{}, "python3")
	require.NoError(t, err)

	assert.True(t, path.IsAbs(plat.ConsoleShebang))
	assert.NotEmpty(t, plat.MagicNumber)
	assert.NotEmpty(t, plat.Tags)
	require.NotNil(t, plat.VersionInfo)
	assert.Equal(t, 3, plat.VersionInfo.Major)
	assert.True(t, path.IsAbs(plat.Scheme.PureLib))

	env := dyn.MarkerEnvironment()
	assert.Equal(t, "", env["extra"])
	assert.Equal(t,
		fmt.Sprintf("%d.%d", plat.VersionInfo.Major, plat.VersionInfo.Minor),
		env["python_version"])
	assert.NotEmpty(t, env["sys_platform"])
}
