// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pypa_test

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pep376"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
	"github.com/datawire/pyrun/pkg/python/pypa/direct_url"
	"github.com/datawire/pyrun/pkg/python/pypa/entry_points"
	"github.com/datawire/pyrun/pkg/python/pypa/recording_installs"
	"github.com/datawire/pyrun/pkg/testutil"
)

type wheelEntry struct {
	Name string
	Body string
}

func sha256Row(relName, body string) string {
	sum := sha256.Sum256([]byte(body))
	return fmt.Sprintf("%s,sha256=%s,%d",
		relName,
		base64.RawURLEncoding.EncodeToString(sum[:]),
		len(body))
}

func buildWheel(t *testing.T, filename string, entries []wheelEntry) {
	t.Helper()

	var record strings.Builder
	for _, entry := range entries {
		record.WriteString(sha256Row(entry.Name, entry.Body) + "\r\n")
	}
	record.WriteString("demo-1.0.dist-info/RECORD,,\r\n")
	entries = append(entries, wheelEntry{
		Name: "demo-1.0.dist-info/RECORD",
		Body: record.String(),
	})

	file, err := os.Create(filename)
	require.NoError(t, err)
	zipWriter := zip.NewWriter(file)
	for _, entry := range entries {
		writer, err := zipWriter.Create(entry.Name)
		require.NoError(t, err)
		_, err = writer.Write([]byte(entry.Body))
		require.NoError(t, err)
	}
	require.NoError(t, zipWriter.Close())
	require.NoError(t, file.Close())
}

// TestInstallWithHooks runs the full hook chain that `pyrun` itself uses when
// it populates a virtual environment, and checks that the resulting .dist-info
// database is laid out the way pip lays it out.
func TestInstallWithHooks(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	tmpdir := t.TempDir()

	initBody := "def main():\n    print(\"demo\")\n"
	metadataBody := "Metadata-Version: 2.1\r\nName: demo\r\nVersion: 1.0\r\n"
	wheelBody := "Wheel-Version: 1.0\r\nRoot-Is-Purelib: true\r\nTag: py3-none-any\r\n"
	entryPointsBody := "[console_scripts]\ndemo = demo:main\n"

	wheelFile := filepath.Join(tmpdir, "demo-1.0-py3-none-any.whl")
	buildWheel(t, wheelFile, []wheelEntry{
		{Name: "demo/__init__.py", Body: initBody},
		{Name: "demo-1.0.dist-info/METADATA", Body: metadataBody},
		{Name: "demo-1.0.dist-info/WHEEL", Body: wheelBody},
		{Name: "demo-1.0.dist-info/entry_points.txt", Body: entryPointsBody},
	})

	root := filepath.Join(tmpdir, "venv")
	plat := python.Platform{
		ConsoleShebang:   "/usr/bin/python3",
		GraphicalShebang: "/usr/bin/python3",
		Implementation:   "CPython",
		Scheme: python.Scheme{
			PureLib: filepath.Join(root, "lib"),
			PlatLib: filepath.Join(root, "lib"),
			Headers: filepath.Join(root, "include"),
			Scripts: filepath.Join(root, "bin"),
			Data:    root,
		},
	}

	// A stand-in for a byte-compilation hook; writes a .pyc, which RECORD
	// must list without a hash or size.
	pycBody := string([]byte{0x61, 0x0d, 0x0d, 0x0a})
	pycHook := func(_ context.Context, inst *bdist.Install) error {
		pycName := filepath.Join(inst.Plat.Scheme.PureLib, "demo", "__pycache__", "__init__.cpython-39.pyc")
		if err := os.MkdirAll(filepath.Dir(pycName), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(pycName, []byte(pycBody), 0o644); err != nil {
			return err
		}
		inst.Files = append(inst.Files, pycName)
		return nil
	}

	urlData := &direct_url.DirectURL{
		URL:         "https://example.com/demo-1.0-py3-none-any.whl",
		ArchiveInfo: &direct_url.ArchiveInfo{Hash: "sha256=0123abcd"},
	}
	inst, err := bdist.InstallWheel(ctx, plat, wheelFile, bdist.PostInstallHooks(
		entry_points.CreateScripts,
		pycHook,
		pep376.RecordRequested(""),
		recording_installs.Record("", "pyrun", urlData),
	))
	require.NoError(t, err)
	require.NotNil(t, inst)

	readFile := func(relName string) string {
		t.Helper()
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relName)))
		require.NoError(t, err)
		return string(content)
	}

	scriptBody := `#!/usr/bin/python3
# -*- coding: utf-8 -*-
import re
import sys
from demo import main
if __name__ == '__main__':
    sys.argv[0] = re.sub(r'(-script\.pyw|\.exe)?$', '', sys.argv[0])
    sys.exit(main())
`
	testutil.AssertEqualText(t, scriptBody, readFile("bin/demo"))

	assert.Equal(t, "pyrun\n", readFile("lib/demo-1.0.dist-info/INSTALLER"))
	assert.Equal(t, "", readFile("lib/demo-1.0.dist-info/REQUESTED"))

	directURLBody := `{"archive_info": {"hash": "sha256=0123abcd"}, ` +
		`"url": "https://example.com/demo-1.0-py3-none-any.whl"}`
	assert.Equal(t, directURLBody, readFile("lib/demo-1.0.dist-info/direct_url.json"))

	expectedRecord := strings.Join([]string{
		sha256Row("../bin/demo", scriptBody),
		sha256Row("demo-1.0.dist-info/INSTALLER", "pyrun\n"),
		sha256Row("demo-1.0.dist-info/METADATA", metadataBody),
		"demo-1.0.dist-info/RECORD,,",
		sha256Row("demo-1.0.dist-info/REQUESTED", ""),
		sha256Row("demo-1.0.dist-info/WHEEL", wheelBody),
		sha256Row("demo-1.0.dist-info/direct_url.json", directURLBody),
		sha256Row("demo-1.0.dist-info/entry_points.txt", entryPointsBody),
		sha256Row("demo/__init__.py", initBody),
		"demo/__pycache__/__init__.cpython-39.pyc,,",
	}, "\r\n") + "\r\n"
	testutil.AssertEqualText(t, expectedRecord, readFile("lib/demo-1.0.dist-info/RECORD"))

	scriptInfo, err := os.Stat(filepath.Join(root, "bin", "demo"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), scriptInfo.Mode().Perm())
}
