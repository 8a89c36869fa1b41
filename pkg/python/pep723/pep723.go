// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pep723 implements PEP 723 -- Inline script metadata: a TOML
// document embedded in a comment block at the top of a single-file script,
// declaring the script's dependencies and Python version requirement.
//
//	# /// script
//	# requires-python = ">=3.12"
//	# dependencies = [
//	#   "requests<3",
//	#   "rich",
//	# ]
//	# ///
//
// https://www.python.org/dev/peps/pep-0723/
package pep723

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pep508"
)

// BlockTypeScript is the block type that this package's high-level functions
// operate on; FindBlock accepts other types for forward compatibility.
const BlockTypeScript = "script"

// Metadata is the decoded TOML document of a "script" block.
type Metadata struct {
	RequiresPython string   `toml:"requires-python"`
	Dependencies   []string `toml:"dependencies"`
	Tool           Tool     `toml:"tool"`
}

// Tool is the `[tool]` table; tables for tools other than pyrun are ignored.
type Tool struct {
	Pyrun ToolSettings `toml:"pyrun"`
}

// ToolSettings is the `[tool.pyrun]` table.
type ToolSettings struct {
	// ExcludeNewer excludes distributions published after an RFC 3339
	// instant from resolution, for reproducibility.
	ExcludeNewer string `toml:"exclude-newer"`
}

// ParseMetadata extracts and decodes the script's metadata block.  A script
// with no metadata block returns (nil, nil).
func ParseMetadata(source []byte) (*Metadata, error) {
	block, err := FindBlock(source, BlockTypeScript)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, nil
	}
	var ret Metadata
	if err := block.Decode(&ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// RequiresPythonSpecifier parses the requires-python key; an absent key is
// the empty Specifier, which matches every version.
func (md Metadata) RequiresPythonSpecifier() (pep440.Specifier, error) {
	spec, err := pep440.ParseSpecifier(md.RequiresPython)
	if err != nil {
		return nil, fmt.Errorf("requires-python: %w", err)
	}
	return spec, nil
}

// Requirements parses the dependencies list.
func (md Metadata) Requirements() ([]*pep508.Requirement, error) {
	ret := make([]*pep508.Requirement, 0, len(md.Dependencies))
	for _, dep := range md.Dependencies {
		req, err := pep508.ParseRequirement(dep)
		if err != nil {
			return nil, fmt.Errorf("dependencies: %w", err)
		}
		ret = append(ret, req)
	}
	return ret, nil
}

// ExcludeNewerTime parses the exclude-newer key; an absent key returns nil.
func (ts ToolSettings) ExcludeNewerTime() (*time.Time, error) {
	if ts.ExcludeNewer == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ts.ExcludeNewer)
	if err != nil {
		return nil, fmt.Errorf("tool.pyrun.exclude-newer: %w", err)
	}
	return &t, nil
}

// Decode decodes the block's embedded TOML document.
func (b *Block) Decode(v interface{}) error {
	if _, err := toml.Decode(b.Content, v); err != nil {
		return fmt.Errorf("pep723: %s block: %w", b.Type, err)
	}
	return nil
}
