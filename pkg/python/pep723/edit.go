// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pep723

import (
	"fmt"
	"regexp"
	"strings"
)

//nolint:gochecknoglobals // Would be 'const'.
var (
	reDependenciesKey = regexp.MustCompile(`(?m)^[ \t]*(dependencies[ \t]*=[ \t]*)`)
	reTableHeader     = regexp.MustCompile(`(?m)^[ \t]*\[`)
)

// tomlQuote renders a string as a TOML basic string.  Requirement strings
// are printable ASCII, so escaping backslash and double-quote suffices.
func tomlQuote(str string) string {
	str = strings.ReplaceAll(str, `\`, `\\`)
	str = strings.ReplaceAll(str, `"`, `\"`)
	return `"` + str + `"`
}

// renderDeps renders a dependencies assignment in canonical one-per-line
// form.
func renderDeps(deps []string) string {
	if len(deps) == 0 {
		return "dependencies = []"
	}
	var out strings.Builder
	out.WriteString("dependencies = [\n")
	for _, dep := range deps {
		out.WriteString("  " + tomlQuote(dep) + ",\n")
	}
	out.WriteString("]")
	return out.String()
}

// SetDependencies returns a copy of source with the script metadata block's
// dependencies array replaced by deps, rendered one per line.  Everything
// outside the array is preserved; a script with no metadata block gains one
// at the top (after a #! line, if any).
func SetDependencies(source []byte, deps []string) ([]byte, error) {
	block, err := FindBlock(source, BlockTypeScript)
	if err != nil {
		return nil, err
	}

	if block == nil {
		blockStr := FormatBlock(BlockTypeScript, renderDeps(deps)+"\n")
		insertAt := 0
		if strings.HasPrefix(string(source), "#!") {
			if i := strings.IndexByte(string(source), '\n'); i >= 0 {
				insertAt = i + 1
			} else {
				source = append(source, '\n')
				insertAt = len(source)
			}
		}
		var out []byte
		out = append(out, source[:insertAt]...)
		out = append(out, blockStr...)
		out = append(out, source[insertAt:]...)
		return out, nil
	}

	content, err := spliceDependencies(block.Content, deps)
	if err != nil {
		return nil, err
	}
	// The edited document must still decode.
	if err := (&Block{Type: block.Type, Content: content}).Decode(&Metadata{}); err != nil {
		return nil, err
	}
	return block.Replace(source, content), nil
}

// spliceDependencies replaces the dependencies array within a block's TOML
// content, or inserts one (before the first table header, so that it stays a
// top-level key) if absent.
func spliceDependencies(content string, deps []string) (string, error) {
	if loc := reDependenciesKey.FindStringSubmatchIndex(content); loc != nil {
		// loc[2] is the start of the "dependencies" token, loc[3] the
		// end of the "=" group.
		valEnd, err := scanTOMLArray(content, loc[3])
		if err != nil {
			return "", err
		}
		return content[:loc[2]] + renderDeps(deps) + content[valEnd:], nil
	}

	insertAt := len(content)
	if loc := reTableHeader.FindStringIndex(content); loc != nil {
		insertAt = loc[0]
	}
	prefix := content[:insertAt]
	if prefix != "" && !strings.HasSuffix(prefix, "\n") {
		prefix += "\n"
	}
	return prefix + renderDeps(deps) + "\n" + content[insertAt:], nil
}

// scanTOMLArray scans a TOML array starting at or after pos, returning the
// offset just past its closing bracket.  Brackets inside quoted strings
// don't count.
func scanTOMLArray(content string, pos int) (int, error) {
	for pos < len(content) && (content[pos] == ' ' || content[pos] == '\t') {
		pos++
	}
	if pos >= len(content) || content[pos] != '[' {
		return 0, fmt.Errorf("pep723: dependencies value is not an array")
	}

	depth := 0
	var quote byte
	for ; pos < len(content); pos++ {
		c := content[pos]
		switch {
		case quote != 0:
			switch c {
			case '\\':
				if quote == '"' {
					pos++
				}
			case quote:
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth == 0 {
				return pos + 1, nil
			}
		}
	}
	return 0, fmt.Errorf("pep723: unterminated dependencies array")
}
