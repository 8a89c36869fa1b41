// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pep723

import (
	"fmt"
	"regexp"
	"strings"
)

// A Block is a metadata comment block found in a script, with enough
// position information to rewrite it in place.
type Block struct {
	Type    string
	Content string // the embedded document, comment prefixes stripped

	start int // byte offset of the opening "# /// {type}" line
	end   int // byte offset just past the closing "# ///" line
}

//nolint:gochecknoglobals // Would be 'const'.
var reBlockOpen = regexp.MustCompile(`^# /// ([a-zA-Z0-9-]+)$`)

// isBlockLine reports whether a line can appear between the opening and
// closing markers: "#" alone, or "# " followed by anything.
func isBlockLine(line string) bool {
	return line == "#" || strings.HasPrefix(line, "# ")
}

// FindBlock finds the metadata block of the given type.  A script with no
// such block returns (nil, nil); more than one is an error.  An unclosed
// block is not a block.
//
// Within a run of comment lines following an opener, the last "# ///" line
// is the closing marker, so that the block body may itself contain "# ///"
// inside a TOML string.
func FindBlock(source []byte, blockType string) (*Block, error) {
	var found *Block

	src := string(source)
	lineStart := 0
	for lineStart < len(src) {
		lineEnd := len(src)
		nextLine := len(src)
		if i := strings.IndexByte(src[lineStart:], '\n'); i >= 0 {
			lineEnd = lineStart + i
			nextLine = lineEnd + 1
		}
		line := src[lineStart:lineEnd]

		m := reBlockOpen.FindStringSubmatch(line)
		if m == nil {
			lineStart = nextLine
			continue
		}

		block, blockEnd := scanBlock(src, m[1], lineStart, nextLine)
		if block == nil {
			// Unclosed; an opener line further down may still open
			// a real block.
			lineStart = nextLine
			continue
		}
		if block.Type == blockType {
			if found != nil {
				return nil, fmt.Errorf("pep723: multiple %s blocks found", blockType)
			}
			found = block
		}
		lineStart = blockEnd
	}
	return found, nil
}

// scanBlock scans the comment lines following an opener at [start,bodyStart)
// for the closing marker, returning the complete block and the offset just
// past it, or (nil, 0) if the block is unclosed.
func scanBlock(src, blockType string, start, bodyStart int) (*Block, int) {
	closeStart := -1 // offset of the last "# ///" line seen
	closeEnd := -1

	lineStart := bodyStart
	for lineStart < len(src) {
		lineEnd := len(src)
		nextLine := len(src)
		if i := strings.IndexByte(src[lineStart:], '\n'); i >= 0 {
			lineEnd = lineStart + i
			nextLine = lineEnd + 1
		}
		line := src[lineStart:lineEnd]
		if !isBlockLine(line) {
			break
		}
		if line == "# ///" {
			closeStart = lineStart
			closeEnd = nextLine
		}
		lineStart = nextLine
	}
	if closeStart < 0 {
		return nil, 0
	}

	var content strings.Builder
	for _, line := range strings.SplitAfter(src[bodyStart:closeStart], "\n") {
		switch {
		case strings.HasPrefix(line, "# "):
			content.WriteString(line[2:])
		case line == "" || line == "#" || line == "#\n":
			content.WriteString(strings.TrimPrefix(line, "#"))
		}
	}
	return &Block{
		Type:    blockType,
		Content: content.String(),
		start:   start,
		end:     closeEnd,
	}, closeEnd
}

// FormatBlock renders a metadata block: the content's lines prefixed with
// "# " (bare "#" for empty lines) between the opening and closing markers.
func FormatBlock(blockType, content string) string {
	var out strings.Builder
	out.WriteString("# /// " + blockType + "\n")
	for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		if line == "" {
			out.WriteString("#\n")
		} else {
			out.WriteString("# " + line + "\n")
		}
	}
	out.WriteString("# ///\n")
	return out.String()
}

// Replace returns a copy of source with the block's lines replaced by a
// re-rendered block holding the new content; everything outside the block is
// preserved byte-for-byte.
func (b *Block) Replace(source []byte, content string) []byte {
	var out []byte
	out = append(out, source[:b.start]...)
	out = append(out, FormatBlock(b.Type, content)...)
	out = append(out, source[b.end:]...)
	return out
}
