// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package bdist_test

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
	"github.com/datawire/pyrun/pkg/testutil"
)

type wheelEntry struct {
	Name string
	Body string
	Mode fs.FileMode
}

// wheelRecord renders a correct "{name}.dist-info/RECORD" for the given
// entries, including RECORD's own hash-less row.
func wheelRecord(entries []wheelEntry) string {
	var record strings.Builder
	for _, entry := range entries {
		hash := sha256.Sum256([]byte(entry.Body))
		fmt.Fprintf(&record, "%s,sha256=%s,%d\r\n",
			entry.Name,
			base64.RawURLEncoding.EncodeToString(hash[:]),
			len(entry.Body))
	}
	record.WriteString("distribution-1.0.dist-info/RECORD,,\r\n")
	return record.String()
}

func buildZip(t *testing.T, filename string, entries []wheelEntry) {
	t.Helper()
	file, err := os.Create(filename)
	require.NoError(t, err)
	zipWriter := zip.NewWriter(file)
	for _, entry := range entries {
		header := &zip.FileHeader{
			Name:   entry.Name,
			Method: zip.Deflate,
		}
		mode := entry.Mode
		if mode == 0 {
			mode = 0o644
		}
		header.SetMode(mode)
		writer, err := zipWriter.CreateHeader(header)
		require.NoError(t, err)
		_, err = writer.Write([]byte(entry.Body))
		require.NoError(t, err)
	}
	require.NoError(t, zipWriter.Close())
	require.NoError(t, file.Close())
}

func testPlatform(root string) python.Platform {
	return python.Platform{
		ConsoleShebang:   "/usr/bin/python3",
		GraphicalShebang: "/usr/bin/pythonw3",
		Implementation:   "CPython",
		Scheme: python.Scheme{
			PureLib: filepath.Join(root, "lib"),
			PlatLib: filepath.Join(root, "lib64"),
			Headers: filepath.Join(root, "include"),
			Scripts: filepath.Join(root, "bin"),
			Data:    root,
		},
	}
}

func expectFile(t *testing.T, root, relName, body string, mode fs.FileMode) {
	t.Helper()
	filename := filepath.Join(root, filepath.FromSlash(relName))
	require.NoError(t, os.MkdirAll(filepath.Dir(filename), 0o755))
	require.NoError(t, os.WriteFile(filename, []byte(body), mode))
	require.NoError(t, os.Chmod(filename, mode))
}

func TestInstallWheel(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	tmpdir := t.TempDir()

	wheelMeta := "" +
		"Wheel-Version: 1.0\r\n" +
		"Generator: bdist_wheel (0.37.0)\r\n" +
		"Root-Is-Purelib: true\r\n" +
		"Tag: py3-none-any\r\n"
	distMeta := "" +
		"Metadata-Version: 2.1\r\n" +
		"Name: distribution\r\n" +
		"Version: 1.0\r\n"
	entries := []wheelEntry{
		{Name: "distribution/__init__.py", Body: "__version__ = \"1.0\"\n"},
		{Name: "distribution/helper.sh", Body: "#!/bin/sh\necho hi\n", Mode: 0o755},
		{Name: "distribution-1.0.data/scripts/say-hello", Body: "#!python\nimport distribution\n"},
		{Name: "distribution-1.0.data/scripts/say-hello-gui", Body: "#!pythonw\nimport distribution\n"},
		{Name: "distribution-1.0.data/scripts/other.sh", Body: "#!/bin/sh\necho other\n"},
		{Name: "distribution-1.0.data/data/share/doc/distribution/README.md", Body: "# distribution\n"},
		{Name: "distribution-1.0.dist-info/METADATA", Body: distMeta},
		{Name: "distribution-1.0.dist-info/WHEEL", Body: wheelMeta},
	}
	entries = append(entries, wheelEntry{
		Name: "distribution-1.0.dist-info/RECORD",
		Body: wheelRecord(entries),
	})
	wheelFile := filepath.Join(tmpdir, "distribution-1.0-py3-none-any.whl")
	buildZip(t, wheelFile, entries)

	expRoot := filepath.Join(tmpdir, "exp")
	expectFile(t, expRoot, "lib/distribution/__init__.py", "__version__ = \"1.0\"\n", 0o644)
	expectFile(t, expRoot, "lib/distribution/helper.sh", "#!/bin/sh\necho hi\n", 0o755)
	expectFile(t, expRoot, "lib/distribution-1.0.dist-info/METADATA", distMeta, 0o644)
	expectFile(t, expRoot, "lib/distribution-1.0.dist-info/WHEEL", wheelMeta, 0o644)
	expectFile(t, expRoot, "bin/say-hello", "#!/usr/bin/python3\nimport distribution\n", 0o755)
	expectFile(t, expRoot, "bin/say-hello-gui", "#!/usr/bin/pythonw3\nimport distribution\n", 0o755)
	expectFile(t, expRoot, "bin/other.sh", "#!/bin/sh\necho other\n", 0o755)
	expectFile(t, expRoot, "share/doc/distribution/README.md", "# distribution\n", 0o644)

	actRoot := filepath.Join(tmpdir, "act")
	plat := testPlatform(actRoot)

	var hookRan bool
	inst, err := bdist.InstallWheel(ctx, plat, wheelFile,
		func(_ context.Context, inst *bdist.Install) error {
			hookRan = true
			assert.Equal(t, plat, inst.Plat)
			return nil
		})
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.True(t, hookRan)

	testutil.AssertEqualTrees(t, expRoot, actRoot)

	assert.Equal(t, filepath.Join(actRoot, "lib", "distribution-1.0.dist-info"), inst.DistInfoDir)
	assert.Equal(t, []string{
		filepath.Join(actRoot, "lib", "distribution", "__init__.py"),
		filepath.Join(actRoot, "lib", "distribution", "helper.sh"),
		filepath.Join(actRoot, "bin", "say-hello"),
		filepath.Join(actRoot, "bin", "say-hello-gui"),
		filepath.Join(actRoot, "bin", "other.sh"),
		filepath.Join(actRoot, "share", "doc", "distribution", "README.md"),
		filepath.Join(actRoot, "lib", "distribution-1.0.dist-info", "METADATA"),
		filepath.Join(actRoot, "lib", "distribution-1.0.dist-info", "WHEEL"),
	}, inst.Files)
}

func TestInstallWheelErrors(t *testing.T) {
	t.Parallel()

	wheelMeta := func(version string) string {
		return "" +
			"Wheel-Version: " + version + "\r\n" +
			"Root-Is-Purelib: true\r\n" +
			"Tag: py3-none-any\r\n"
	}

	type testcase struct {
		Entries   func() []wheelEntry
		OutputErr string
	}
	testcases := map[string]testcase{
		"tampered-content": {
			Entries: func() []wheelEntry {
				entries := []wheelEntry{
					{Name: "distribution/__init__.py", Body: "good\n"},
					{Name: "distribution-1.0.dist-info/WHEEL", Body: wheelMeta("1.0")},
				}
				record := wheelRecord(entries)
				entries[0].Body = "evil\n"
				return append(entries, wheelEntry{
					Name: "distribution-1.0.dist-info/RECORD",
					Body: record,
				})
			},
			OutputErr: "checksum mismatch",
		},
		"unlisted-file": {
			Entries: func() []wheelEntry {
				entries := []wheelEntry{
					{Name: "distribution/__init__.py", Body: "good\n"},
					{Name: "distribution-1.0.dist-info/WHEEL", Body: wheelMeta("1.0")},
				}
				record := wheelRecord(entries)
				return append(entries,
					wheelEntry{
						Name: "distribution-1.0.dist-info/RECORD",
						Body: record,
					},
					wheelEntry{
						Name: "distribution/smuggled.py",
						Body: "bad\n",
					})
			},
			OutputErr: `files not mentioned in RECORD: ["distribution/smuggled.py"]`,
		},
		"no-record": {
			Entries: func() []wheelEntry {
				return []wheelEntry{
					{Name: "distribution/__init__.py", Body: "good\n"},
					{Name: "distribution-1.0.dist-info/WHEEL", Body: wheelMeta("1.0")},
				}
			},
			OutputErr: "file does not exist in wheel zip archive",
		},
		"future-wheel-version": {
			Entries: func() []wheelEntry {
				entries := []wheelEntry{
					{Name: "distribution/__init__.py", Body: "good\n"},
					{Name: "distribution-1.0.dist-info/WHEEL", Body: wheelMeta("2.0")},
				}
				return append(entries, wheelEntry{
					Name: "distribution-1.0.dist-info/RECORD",
					Body: wheelRecord(entries),
				})
			},
			OutputErr: "wheel file's Wheel-Version (2.0) is not compatible with this wheel parser",
		},
		"unsupported-data-type": {
			Entries: func() []wheelEntry {
				entries := []wheelEntry{
					{Name: "distribution-1.0.data/frobnicators/frob", Body: "x\n"},
					{Name: "distribution-1.0.dist-info/WHEEL", Body: wheelMeta("1.0")},
				}
				return append(entries, wheelEntry{
					Name: "distribution-1.0.dist-info/RECORD",
					Body: wheelRecord(entries),
				})
			},
			OutputErr: `unsupported wheel data type "frobnicators": "distribution-1.0.data/frobnicators/frob"`,
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx := dlog.NewTestContext(t, true)
			tmpdir := t.TempDir()
			wheelFile := filepath.Join(tmpdir, "distribution-1.0-py3-none-any.whl")
			buildZip(t, wheelFile, tc.Entries())

			inst, err := bdist.InstallWheel(ctx, testPlatform(filepath.Join(tmpdir, "dst")), wheelFile, nil)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.OutputErr)
			assert.Nil(t, inst)
		})
	}
}
