// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pep345

import (
	"bufio"
	"bytes"
	"fmt"
	"net/textproto"

	"github.com/datawire/pyrun/pkg/python/pep440"
)

// CoreMetadata is a parsed METADATA (or PKG-INFO) file; the RFC 5322-style
// header block at the front of the file.  The message body (the package
// description) is discarded.
//
// Requires-Dist values are PEP 508 requirement strings; they are left
// unparsed here because parsing them is pep508's job.
type CoreMetadata struct {
	MetadataVersion string
	Name            string
	Version         pep440.Version
	RequiresPython  VersionSpecifier
	RequiresDist    []string
	ProvidesExtra   []string
}

// ParseMetadata parses the header block of a METADATA file.
func ParseMetadata(content []byte) (_ *CoreMetadata, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pep345.ParseMetadata: %w", err)
		}
	}()

	// A METADATA file with no description has no blank separator line;
	// ReadMIMEHeader reports that as an EOF after having read the headers.
	hdr, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(content))).ReadMIMEHeader()
	if err != nil && len(hdr) == 0 {
		return nil, err
	}

	ret := &CoreMetadata{
		MetadataVersion: hdr.Get("Metadata-Version"),
		Name:            hdr.Get("Name"),
		RequiresDist:    hdr.Values("Requires-Dist"),
		ProvidesExtra:   hdr.Values("Provides-Extra"),
	}
	if ret.Name == "" {
		return nil, fmt.Errorf("missing Name field")
	}
	verStr := hdr.Get("Version")
	if verStr == "" {
		return nil, fmt.Errorf("missing Version field")
	}
	ver, err := pep440.ParseVersion(verStr)
	if err != nil {
		return nil, err
	}
	ret.Version = *ver
	if reqPy := hdr.Get("Requires-Python"); reqPy != "" {
		spec, err := ParseVersionSpecifier(reqPy)
		if err != nil {
			return nil, err
		}
		ret.RequiresPython = spec
	}
	return ret, nil
}
