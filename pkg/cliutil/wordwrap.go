package cliutil

import (
	"strings"
)

// Wrap the string `s` to a maximum width `w`.  Pass `w` == 0 to do no wrapping.
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func Wrap(w int, s string) string {
	return wrap(0, w, s)
}

// Wrap the string `s` to a maximum width `w` with leading indent `i`.  The first line is not
// indented (this is assumed to be done by caller).  Pass `w` == 0 to do no wrapping
//
// In order to have some room for slop to avoid things like a short word being on a line by itself,
// most lines are actually wrapped to `w - 5`.
func WrapIndent(i, w int, s string) string {
	return wrap(i, w, s)
}

func wrap(indent, width int, str string) string {
	if width <= 0 {
		return str
	}
	limit := width - 5
	if limit <= indent {
		return str
	}
	indentStr := strings.Repeat(" ", indent)

	// Hard newlines in the input are respected; only soft-wrapped continuation
	// lines get the indent.
	hardLines := strings.Split(str, "\n")
	outLines := make([]string, 0, len(hardLines))
	for _, hardLine := range hardLines {
		outLines = append(outLines, wrapLine(indentStr, indent, limit, hardLine)...)
	}
	return strings.Join(outLines, "\n")
}

// wrapLine wraps a single newline-free line, preserving inter-word runs of
// whitespace (so sentence-separating double spaces survive) except at the
// chosen break points.
func wrapLine(indentStr string, indent, limit int, line string) []string {
	isSpace := func(c byte) bool { return c == ' ' || c == '\t' }

	var ret []string
	var cur strings.Builder
	col := indent
	haveWord := false
	i := 0
	for i < len(line) {
		start := i
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		space := line[start:i]

		start = i
		for i < len(line) && !isSpace(line[i]) {
			i++
		}
		word := line[start:i]
		if word == "" {
			// trailing whitespace; let trimTrailingWhitespaces deal with it
			cur.WriteString(space)
			break
		}

		if haveWord && col+len(space)+len(word) >= limit {
			ret = append(ret, cur.String())
			cur.Reset()
			cur.WriteString(indentStr)
			cur.WriteString(word)
			col = indent + len(word)
		} else {
			cur.WriteString(space)
			cur.WriteString(word)
			col += len(space) + len(word)
			haveWord = true
		}
	}
	return append(ret, cur.String())
}
