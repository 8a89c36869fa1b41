// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package dir deals with materializing a directory from an archive.
package dir

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// entryName validates and rewrites an archive member name: slash-separated,
// relative to the extraction root, optionally with a leading path prefix
// stripped.  ok=false means the entry should be skipped.
func entryName(rawName, strip string) (name string, ok bool, err error) {
	name = path.Clean(strings.TrimPrefix(rawName, "/"))
	if name == "." {
		return "", false, nil
	}
	if name == ".." || strings.HasPrefix(name, "../") {
		return "", false, fmt.Errorf("tar entry escapes the target directory: %q", rawName)
	}
	if strip != "" {
		if !strings.HasPrefix(name, strip+"/") {
			return "", false, nil
		}
		name = strings.TrimPrefix(name, strip+"/")
	}
	return name, true, nil
}

// ExtractTar unpacks a tar stream in to dirname.
//
// Member names are interpreted as slash-separated paths relative to dirname;
// members that would escape dirname are an error.  If strip is non-empty,
// only members under that leading path are extracted, with the prefix
// removed; other members are silently skipped.
func ExtractTar(dirname, strip string, tarReader *tar.Reader) error {
	for {
		header, err := tarReader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		name, ok, err := entryName(header.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		absName := filepath.Join(dirname, filepath.FromSlash(name))
		mode := header.FileInfo().Mode()
		switch header.Typeflag {
		case tar.TypeDir:
			// |0o700 so that we can go on to write in to it even if
			// the archive says read-only.
			if err := os.MkdirAll(absName, mode.Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(absName), 0o755); err != nil {
				return err
			}
			file, err := os.OpenFile(absName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(file, tarReader); err != nil {
				_ = file.Close()
				return fmt.Errorf("tar entry %q: %w", header.Name, err)
			}
			if err := file.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(absName), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, absName); err != nil {
				if !errors.Is(err, fs.ErrExist) {
					return err
				}
				if err := os.Remove(absName); err != nil {
					return err
				}
				if err := os.Symlink(header.Linkname, absName); err != nil {
					return err
				}
			}
		case tar.TypeLink:
			target, ok, err := entryName(header.Linkname, strip)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("tar entry %q: hard link to %q outside of the archive",
					header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(absName), 0o755); err != nil {
				return err
			}
			if err := os.Link(filepath.Join(dirname, filepath.FromSlash(target)), absName); err != nil {
				return err
			}
		case tar.TypeXGlobalHeader:
			// pax metadata, nothing to write
		default:
			return fmt.Errorf("tar entry %q: unsupported type %q",
				header.Name, header.Typeflag)
		}
	}
}

// ExtractTarZst unpacks a Zstandard-compressed tar stream in to dirname, per
// ExtractTar.
func ExtractTarZst(dirname, strip string, reader io.Reader) error {
	zstdReader, err := zstd.NewReader(reader)
	if err != nil {
		return err
	}
	defer zstdReader.Close()
	return ExtractTar(dirname, strip, tar.NewReader(zstdReader))
}
