// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package dir_test

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pyrun/pkg/dir"
)

func tarDir(t *testing.T, w *tar.Writer, name string) {
	t.Helper()
	require.NoError(t, w.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}))
}

func tarFile(t *testing.T, w *tar.Writer, name string, mode int64, content string) {
	t.Helper()
	require.NoError(t, w.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     mode,
		Size:     int64(len(content)),
	}))
	_, err := w.Write([]byte(content))
	require.NoError(t, err)
}

func tarSymlink(t *testing.T, w *tar.Writer, name, target string) {
	t.Helper()
	require.NoError(t, w.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeSymlink,
		Linkname: target,
		Mode:     0o777,
	}))
}

func tarHardlink(t *testing.T, w *tar.Writer, name, target string) {
	t.Helper()
	require.NoError(t, w.WriteHeader(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeLink,
		Linkname: target,
	}))
}

// buildArchive returns a little python-install-shaped archive under a
// "python/" top-level directory, plus an unrelated "other/" tree.
func buildArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	tarDir(t, w, "python")
	tarDir(t, w, "python/bin")
	tarFile(t, w, "python/bin/python3.12", 0o755, "fake interpreter\n")
	tarSymlink(t, w, "python/bin/python3", "python3.12")
	tarHardlink(t, w, "python/bin/python", "python/bin/python3.12")
	tarFile(t, w, "python/lib/readme.txt", 0o644, "docs\n")
	tarFile(t, w, "other/skip.txt", 0o644, "not extracted\n")
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractTar(t *testing.T) {
	t.Parallel()
	tmpdir := t.TempDir()
	archive := buildArchive(t)
	require.NoError(t, dir.ExtractTar(tmpdir, "python", tar.NewReader(bytes.NewReader(archive))))

	content, err := os.ReadFile(filepath.Join(tmpdir, "bin", "python3.12"))
	require.NoError(t, err)
	assert.Equal(t, "fake interpreter\n", string(content))

	info, err := os.Stat(filepath.Join(tmpdir, "bin", "python3.12"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100, "owner-executable bit")

	target, err := os.Readlink(filepath.Join(tmpdir, "bin", "python3"))
	require.NoError(t, err)
	assert.Equal(t, "python3.12", target)

	hardInfo, err := os.Stat(filepath.Join(tmpdir, "bin", "python"))
	require.NoError(t, err)
	assert.True(t, os.SameFile(info, hardInfo))

	assert.FileExists(t, filepath.Join(tmpdir, "lib", "readme.txt"))
	assert.NoFileExists(t, filepath.Join(tmpdir, "skip.txt"))
	assert.NoFileExists(t, filepath.Join(tmpdir, "other", "skip.txt"))
}

func TestExtractTarNoStrip(t *testing.T) {
	t.Parallel()
	tmpdir := t.TempDir()
	archive := buildArchive(t)
	require.NoError(t, dir.ExtractTar(tmpdir, "", tar.NewReader(bytes.NewReader(archive))))
	assert.FileExists(t, filepath.Join(tmpdir, "python", "bin", "python3.12"))
	assert.FileExists(t, filepath.Join(tmpdir, "other", "skip.txt"))
}

func TestExtractTarEscape(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	tarFile(t, w, "../evil", 0o644, "gotcha\n")
	require.NoError(t, w.Close())

	err := dir.ExtractTar(t.TempDir(), "", tar.NewReader(bytes.NewReader(buf.Bytes())))
	assert.ErrorContains(t, err, "escapes the target directory")
}

func TestExtractTarUnsupportedType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(&tar.Header{
		Name:     "fifo",
		Typeflag: tar.TypeFifo,
	}))
	require.NoError(t, w.Close())

	err := dir.ExtractTar(t.TempDir(), "", tar.NewReader(bytes.NewReader(buf.Bytes())))
	assert.ErrorContains(t, err, "unsupported type")
}

func TestExtractTarZst(t *testing.T) {
	t.Parallel()
	archive := buildArchive(t)
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(archive)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	tmpdir := t.TempDir()
	require.NoError(t, dir.ExtractTarZst(tmpdir, "python", &buf))
	assert.FileExists(t, filepath.Join(tmpdir, "bin", "python3.12"))
}
