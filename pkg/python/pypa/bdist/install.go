// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package bdist

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pep440"
)

// An Install describes the outcome of installing a wheel file into a
// python.Platform's install scheme.
type Install struct {
	// Plat is the platform that the wheel was installed in to.
	Plat python.Platform

	// DistInfoDir is the absolute on-disk path of the installed package's
	// "{name}.dist-info" directory.
	DistInfoDir string

	// Files lists the absolute on-disk paths of all installed files, in
	// the order they were written.  It does not include directories.
	Files []string
}

// A PostInstallHook is a function that may mutate an installed package after
// the wheel's own files have been written to disk.  Any files that a hook
// creates must be appended to inst.Files, so that later hooks (such as
// recording_installs.Record) see them.
type PostInstallHook func(ctx context.Context, inst *Install) error

// PostInstallHooks combines several PostInstallHooks in to one, calling each
// of them in order.
func PostInstallHooks(hooks ...PostInstallHook) PostInstallHook {
	return func(ctx context.Context, inst *Install) error {
		for _, hook := range hooks {
			if hook == nil {
				continue
			}
			if err := hook(ctx, inst); err != nil {
				return err
			}
		}
		return nil
	}
}

// InstallWheel installs a wheel file into the install scheme of the given
// platform, on the real filesystem.
//
// Parent directories of installed files are created as needed.  The wheel's
// own RECORD (and RECORD.jws/RECORD.p7s signatures) are not installed; use
// recording_installs.Record as the hook to write a RECORD describing what
// actually got installed.
func InstallWheel(
	ctx context.Context,
	plat python.Platform,
	wheelfilename string,
	hook PostInstallHook,
) (*Install, error) {
	if err := plat.Init(); err != nil {
		return nil, err
	}

	zipReader, err := zip.OpenReader(wheelfilename)
	if err != nil {
		return nil, fmt.Errorf("wheel %q: %w", wheelfilename, err)
	}
	defer func() {
		_ = zipReader.Close()
	}()
	wh := &wheel{
		zip: &zipReader.Reader,
	}

	if err := wh.integrityCheck(); err != nil {
		return nil, fmt.Errorf("wheel %q: %w", wheelfilename, err)
	}

	inst, err := wh.installToDisk(ctx, plat)
	if err != nil {
		return nil, fmt.Errorf("wheel %q: %w", wheelfilename, err)
	}

	if hook != nil {
		if err := hook(ctx, inst); err != nil {
			return nil, fmt.Errorf("wheel %q: post-install: %w", wheelfilename, err)
		}
	}

	return inst, nil
}

func (wh *wheel) installToDisk(ctx context.Context, plat python.Platform) (*Install, error) {
	// Installing a wheel 'distribution-1.0-py32-none-any.whl' notionally
	// consists of an "unpack" phase and a "spread" phase; because we know
	// the full install scheme up-front we do both in a single pass over
	// the archive.
	//
	// Unpack:
	//
	//   a. Parse ``distribution-1.0.dist-info/WHEEL``.
	metadata, err := wh.parseDistInfoWheel()
	if err != nil {
		return nil, fmt.Errorf("parse .dist-info/WHEEL: %w", err)
	}
	//   b. Check that installer is compatible with Wheel-Version.  Warn if
	//      minor version is greater, abort if major version is greater.
	wheelVersion, err := pep440.ParseVersion(metadata.Get("Wheel-Version"))
	if err != nil {
		return nil, fmt.Errorf("parse Wheel-Version: %w", err)
	}
	if wheelVersion.Major() > specVersion.Major() {
		return nil, fmt.Errorf("wheel file's Wheel-Version (%s) is not compatible with this wheel parser",
			wheelVersion)
	}
	if wheelVersion.Cmp(*specVersion) > 0 {
		dlog.Warnf(ctx, "wheel file's Wheel-Version (%s) is newer than this wheel parser", wheelVersion)
	}
	//   c. If Root-Is-Purelib == 'true', unpack archive into purelib
	//      (site-packages).
	//   d. Else unpack archive into platlib (site-packages).
	var dstDir string
	if metadata.Get("Root-Is-Purelib") == "true" {
		dstDir = plat.Scheme.PureLib
	} else {
		dstDir = plat.Scheme.PlatLib
	}

	distInfoDir, err := wh.distInfoDir()
	if err != nil {
		// This already ran successfully inside of .parseDistInfoWheel();
		// we should get the cached value.
		panic("should not happen")
	}
	dataDir := strings.TrimSuffix(distInfoDir, ".dist-info") + ".data"

	inst := &Install{
		Plat:        plat,
		DistInfoDir: filepath.Join(dstDir, filepath.FromSlash(distInfoDir)),
	}

	// Spread:
	//
	//   a. Unpacked archive includes ``distribution-1.0.dist-info/`` and
	//      (if there is data) ``distribution-1.0.data/``.
	//   b. Move each subtree of ``distribution-1.0.data/`` onto its
	//      destination path. Each subdirectory of ``distribution-1.0.data/``
	//      is a key into a dict of destination directories, such as
	//      ``distribution-1.0.data/(purelib|platlib|headers|scripts|data)``.
	//      The initially supported paths are taken from
	//      ``distutils.command.install``.
	for _, file := range wh.zip.File {
		zipName := path.Clean(file.FileHeader.Name)
		if file.FileInfo().IsDir() {
			continue
		}
		if strings.HasPrefix(zipName, "/") || zipName == ".." || strings.HasPrefix(zipName, "../") {
			return nil, fmt.Errorf("wheel zip archive member escapes the archive root: %q",
				file.FileHeader.Name)
		}
		switch zipName {
		case path.Join(distInfoDir, "RECORD"),
			path.Join(distInfoDir, "RECORD.jws"),
			path.Join(distInfoDir, "RECORD.p7s"):
			// Don't install the wheel's own RECORD; "d. Update
			// ``distribution-1.0.dist-info/RECORD`` with the installed
			// paths" is implemented as a PostInstallHook
			// (recording_installs.Record) that writes a fresh one.
			continue
		}

		dstRoot := dstDir
		relName := zipName
		isScript := false
		if strings.HasPrefix(zipName, dataDir+"/") {
			dataName := strings.TrimPrefix(zipName, dataDir+"/")
			parts := strings.SplitN(dataName, "/", 2)
			key := parts[0]
			var rest string
			if len(parts) > 1 {
				rest = parts[1]
			}
			switch key {
			case "purelib":
				dstRoot = plat.Scheme.PureLib
			case "platlib":
				dstRoot = plat.Scheme.PlatLib
			case "headers":
				dstRoot = plat.Scheme.Headers
			case "scripts":
				dstRoot = plat.Scheme.Scripts
				isScript = true
			case "data":
				dstRoot = plat.Scheme.Data
			default:
				return nil, fmt.Errorf("unsupported wheel data type %q: %q",
					key, path.Join(dataDir, dataName))
			}
			relName = rest
			if relName == "" {
				continue
			}
		}

		dstName := filepath.Join(dstRoot, filepath.FromSlash(relName))
		if err := extractFile(plat, file, dstName, isScript); err != nil {
			return nil, err
		}
		inst.Files = append(inst.Files, dstName)
	}

	return inst, nil
}

// extractFile writes a single zip archive member to dstName.
//
// Unlike standard zip extraction, we follow
// `pip/_internal/utils/unpacking.py:unzip_file()` and discard all permission
// info from the archive except for the execute bit; everything is installed
// as 0o644 or (if the archive says it's executable) 0o755.
func extractFile(plat python.Platform, file *zip.File, dstName string, isScript bool) error {
	reader, err := file.Open()
	if err != nil {
		return fmt.Errorf("extract %q: %w", file.FileHeader.Name, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	mode := os.FileMode(0o644)
	if isExecutable(file.FileHeader) {
		mode = 0o755
	}

	var src io.Reader = reader
	if isScript {
		// c. If applicable, update scripts starting with ``#!python`` to
		//    point to the correct interpreter.
		//
		//    In wheel, scripts are packaged in
		//    ``{distribution}-{version}.data/scripts/``.  If the first line
		//    of a file in ``scripts/`` starts with exactly ``b'#!python'``,
		//    rewrite to point to the correct interpreter.  Unix installers
		//    may need to add the +x bit to these files if the archive was
		//    created on Windows.
		//
		//    The ``b'#!pythonw'`` convention is allowed.  ``b'#!pythonw'``
		//    indicates a GUI script instead of a console script.
		header, err := io.ReadAll(io.LimitReader(reader, int64(len("#!pythonw"))))
		if err != nil {
			return fmt.Errorf("extract %q: %w", file.FileHeader.Name, err)
		}
		if bytes.HasPrefix(header, []byte("#!python")) {
			shebang := plat.ConsoleShebang
			skip := len("#!python")
			if bytes.Equal(header, []byte("#!pythonw")) {
				skip++
				shebang = plat.GraphicalShebang
			}
			src = io.MultiReader(
				strings.NewReader("#!"+shebang),
				bytes.NewReader(header[skip:]),
				reader,
			)
		} else {
			src = io.MultiReader(
				bytes.NewReader(header),
				reader,
			)
		}
		mode = 0o755
	}

	if err := os.MkdirAll(filepath.Dir(dstName), 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(dstName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("extract %q: %w", file.FileHeader.Name, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("extract %q: %w", file.FileHeader.Name, err)
	}
	// The umask may have clobbered the file mode at creation.
	if err := os.Chmod(dstName, mode); err != nil {
		return err
	}
	return nil
}
