// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pep508 implements PEP 508 -- Dependency specification for Python
// Software Packages.
//
// https://www.python.org/dev/peps/pep-0508/
package pep508

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pep503"
)

// A Requirement is a parsed dependency specification:
//
//	name[extra1,extra2] >=1.0,<2.0 ; marker
//	name @ url ; marker
type Requirement struct {
	Name      string
	Extras    []string
	URL       string
	Specifier pep440.Specifier
	Marker    *Marker
}

// NormalizedName returns the requirement's distribution name, normalized the
// same way that package names in repository URLs are.
func (r Requirement) NormalizedName() string {
	return pep503.NormalizePackageName(r.Name)
}

func (r Requirement) String() string {
	var out strings.Builder
	out.WriteString(r.Name)
	if len(r.Extras) > 0 {
		out.WriteString("[")
		out.WriteString(strings.Join(r.Extras, ","))
		out.WriteString("]")
	}
	if r.URL != "" {
		out.WriteString(" @ ")
		out.WriteString(r.URL)
	} else if len(r.Specifier) > 0 {
		out.WriteString(r.Specifier.String())
	}
	if r.Marker != nil {
		out.WriteString(" ; ")
		out.WriteString(r.Marker.String())
	}
	return out.String()
}

//nolint:gochecknoglobals // Would be 'const'.
var reName = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?`)

// ParseRequirement parses a PEP 508 dependency specification string.
func ParseRequirement(str string) (*Requirement, error) {
	s := &scanner{input: str}
	ret, err := s.parseRequirement()
	if err != nil {
		return nil, fmt.Errorf("pep508.ParseRequirement: invalid requirement: %q: %w", str, err)
	}
	return ret, nil
}

// scanner is a cursor in to a requirement string; the parse methods on it
// consume their production and leave the position on the next token.
type scanner struct {
	input string
	pos   int
}

func (s *scanner) rest() string { return s.input[s.pos:] }

func (s *scanner) eof() bool { return s.pos >= len(s.input) }

func (s *scanner) skipSpace() {
	for !s.eof() && (s.input[s.pos] == ' ' || s.input[s.pos] == '\t') {
		s.pos++
	}
}

// lit consumes the given literal if it is next, and reports whether it did.
func (s *scanner) lit(prefix string) bool {
	if strings.HasPrefix(s.rest(), prefix) {
		s.pos += len(prefix)
		return true
	}
	return false
}

func isIdentByte(c byte) bool {
	return ('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9') ||
		c == '.' || c == '-' || c == '_'
}

// word consumes the given keyword if it is next and not part of a longer
// identifier, and reports whether it did.
func (s *scanner) word(kw string) bool {
	if !strings.HasPrefix(s.rest(), kw) {
		return false
	}
	if rest := s.rest()[len(kw):]; rest != "" && isIdentByte(rest[0]) {
		return false
	}
	s.pos += len(kw)
	return true
}

func (s *scanner) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%s at %q", fmt.Sprintf(format, args...), s.rest())
}

func (s *scanner) parseRequirement() (*Requirement, error) {
	var ret Requirement

	s.skipSpace()
	name := reName.FindString(s.rest())
	if name == "" {
		return nil, s.errorf("expected package name")
	}
	ret.Name = name
	s.pos += len(name)

	s.skipSpace()
	if s.lit("[") {
		extras, err := s.parseExtras()
		if err != nil {
			return nil, err
		}
		ret.Extras = extras
		s.skipSpace()
	}

	switch {
	case s.lit("@"):
		s.skipSpace()
		url := s.rest()
		if i := strings.IndexAny(url, " \t;"); i >= 0 {
			url = url[:i]
		}
		if url == "" {
			return nil, s.errorf("expected URL")
		}
		ret.URL = url
		s.pos += len(url)
	case s.lit("("):
		end := strings.IndexByte(s.rest(), ')')
		if end < 0 {
			return nil, s.errorf("unclosed version specifier parenthesis")
		}
		spec, err := pep440.ParseSpecifier(s.rest()[:end])
		if err != nil {
			return nil, err
		}
		ret.Specifier = spec
		s.pos += end + 1
	default:
		specStr := s.rest()
		if i := strings.IndexByte(specStr, ';'); i >= 0 {
			specStr = specStr[:i]
		}
		spec, err := pep440.ParseSpecifier(specStr)
		if err != nil {
			return nil, err
		}
		ret.Specifier = spec
		s.pos += len(specStr)
	}

	s.skipSpace()
	if s.lit(";") {
		marker, err := s.parseMarker()
		if err != nil {
			return nil, err
		}
		ret.Marker = marker
	}

	s.skipSpace()
	if !s.eof() {
		return nil, s.errorf("unexpected trailing text")
	}
	return &ret, nil
}

func (s *scanner) parseExtras() ([]string, error) {
	var ret []string
	s.skipSpace()
	if s.lit("]") {
		return ret, nil
	}
	for {
		s.skipSpace()
		extra := reName.FindString(s.rest())
		if extra == "" {
			return nil, s.errorf("expected extra name")
		}
		ret = append(ret, extra)
		s.pos += len(extra)
		s.skipSpace()
		switch {
		case s.lit(","):
			continue
		case s.lit("]"):
			return ret, nil
		default:
			return nil, s.errorf("expected ',' or ']'")
		}
	}
}
