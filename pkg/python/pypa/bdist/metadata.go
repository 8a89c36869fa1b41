// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package bdist

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
)

// ReadMetadata returns the contents of the wheel's
// "{name}.dist-info/METADATA" file, without installing anything.
func ReadMetadata(wheelfilename string) (_ []byte, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("wheel %q: %w", wheelfilename, err)
		}
	}()

	zipReader, err := zip.OpenReader(wheelfilename)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = zipReader.Close()
	}()
	wh := &wheel{
		zip: &zipReader.Reader,
	}

	infoDir, err := wh.distInfoDir()
	if err != nil {
		return nil, err
	}
	reader, err := wh.Open(path.Join(infoDir, "METADATA"))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = reader.Close()
	}()
	return io.ReadAll(reader)
}
