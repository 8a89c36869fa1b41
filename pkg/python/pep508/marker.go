// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pep508

import (
	"fmt"
	"strings"

	"github.com/datawire/pyrun/pkg/python/pep440"
)

// An Environment is the set of environment marker variables describing a
// target Python installation, as defined by PEP 508's "environment markers"
// section; keys are the variable names ("python_version", "sys_platform",
// ...).
//
// The "extra" variable is special: it is the empty string except while
// evaluating the dependencies that an extra pulls in.
type Environment map[string]string

//nolint:gochecknoglobals // Would be 'const'.
var markerVariables = map[string]struct{}{
	"os_name":                        {},
	"sys_platform":                   {},
	"platform_machine":               {},
	"platform_python_implementation": {},
	"platform_release":               {},
	"platform_system":                {},
	"platform_version":               {},
	"python_version":                 {},
	"python_full_version":            {},
	"implementation_name":            {},
	"implementation_version":         {},
	"extra":                          {},
}

// A Marker is a parsed environment marker: the part of a requirement after
// the ";".  A requirement whose marker evaluates to false does not apply to
// that environment.
type Marker struct {
	expr markerExpr
	raw  string
}

func (m *Marker) String() string { return m.raw }

// ParseMarker parses an environment marker string.
func ParseMarker(str string) (*Marker, error) {
	s := &scanner{input: str}
	ret, err := s.parseMarker()
	if err != nil {
		return nil, fmt.Errorf("pep508.ParseMarker: invalid marker: %q: %w", str, err)
	}
	s.skipSpace()
	if !s.eof() {
		return nil, fmt.Errorf("pep508.ParseMarker: invalid marker: %q: %w", str,
			s.errorf("unexpected trailing text"))
	}
	return ret, nil
}

// Eval evaluates the marker against an environment.
func (m *Marker) Eval(env Environment) (bool, error) {
	ok, err := m.expr.eval(env)
	if err != nil {
		return false, fmt.Errorf("pep508: evaluate marker %q: %w", m.raw, err)
	}
	return ok, nil
}

type markerExpr interface {
	eval(env Environment) (bool, error)
}

type markerBool struct {
	or       bool // 'or' instead of 'and'
	lhs, rhs markerExpr
}

func (m markerBool) eval(env Environment) (bool, error) {
	lhs, err := m.lhs.eval(env)
	if err != nil {
		return false, err
	}
	if lhs == m.or {
		// short circuit
		return lhs, nil
	}
	return m.rhs.eval(env)
}

type markerCompare struct {
	lhs markerValue
	op  string
	rhs markerValue
}

func (m markerCompare) eval(env Environment) (bool, error) {
	lhs, err := m.lhs.get(env)
	if err != nil {
		return false, err
	}
	rhs, err := m.rhs.get(env)
	if err != nil {
		return false, err
	}
	return compareValues(lhs, m.op, rhs)
}

// A markerValue is one side of a comparison: either a quoted string literal
// or an environment variable reference.
type markerValue struct {
	literal bool
	value   string
}

func (v markerValue) get(env Environment) (string, error) {
	if v.literal {
		return v.value, nil
	}
	val, ok := env[v.value]
	if !ok {
		return "", fmt.Errorf("environment is missing the %q marker variable", v.value)
	}
	return val, nil
}

// compareValues applies a marker comparison operator.  When the operator is a
// version comparison and both sides parse as PEP 440 versions, version
// semantics are used; otherwise it falls back to plain string comparison,
// like Python's "packaging" library.
func compareValues(lhs, op, rhs string) (bool, error) {
	switch op {
	case "in":
		return strings.Contains(rhs, lhs), nil
	case "not in":
		return !strings.Contains(rhs, lhs), nil
	case "===":
		return lhs == rhs, nil
	}
	if spec, err := pep440.ParseSpecifier(op + rhs); err == nil {
		if lhsVer, err := pep440.ParseVersion(lhs); err == nil {
			return spec.Match(*lhsVer), nil
		}
	}
	switch op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case "<=":
		return lhs <= rhs, nil
	case ">=":
		return lhs >= rhs, nil
	case "<":
		return lhs < rhs, nil
	case ">":
		return lhs > rhs, nil
	default: // "~="
		return false, fmt.Errorf("operator %q needs PEP 440 version operands: %q, %q", op, lhs, rhs)
	}
}

// parseMarker parses from just after the ";" to the end of the input.
func (s *scanner) parseMarker() (*Marker, error) {
	s.skipSpace()
	raw := strings.TrimRight(s.rest(), " \t")
	expr, err := s.parseMarkerOr()
	if err != nil {
		return nil, err
	}
	return &Marker{expr: expr, raw: raw}, nil
}

func (s *scanner) parseMarkerOr() (markerExpr, error) {
	lhs, err := s.parseMarkerAnd()
	if err != nil {
		return nil, err
	}
	for {
		s.skipSpace()
		if !s.word("or") {
			return lhs, nil
		}
		rhs, err := s.parseMarkerAnd()
		if err != nil {
			return nil, err
		}
		lhs = markerBool{or: true, lhs: lhs, rhs: rhs}
	}
}

func (s *scanner) parseMarkerAnd() (markerExpr, error) {
	lhs, err := s.parseMarkerExpr()
	if err != nil {
		return nil, err
	}
	for {
		s.skipSpace()
		if !s.word("and") {
			return lhs, nil
		}
		rhs, err := s.parseMarkerExpr()
		if err != nil {
			return nil, err
		}
		lhs = markerBool{or: false, lhs: lhs, rhs: rhs}
	}
}

func (s *scanner) parseMarkerExpr() (markerExpr, error) {
	s.skipSpace()
	if s.lit("(") {
		expr, err := s.parseMarkerOr()
		if err != nil {
			return nil, err
		}
		s.skipSpace()
		if !s.lit(")") {
			return nil, s.errorf("expected ')'")
		}
		return expr, nil
	}
	lhs, err := s.parseMarkerValue()
	if err != nil {
		return nil, err
	}
	op, err := s.parseMarkerOp()
	if err != nil {
		return nil, err
	}
	rhs, err := s.parseMarkerValue()
	if err != nil {
		return nil, err
	}
	return markerCompare{lhs: lhs, op: op, rhs: rhs}, nil
}

func (s *scanner) parseMarkerValue() (markerValue, error) {
	s.skipSpace()
	if s.eof() {
		return markerValue{}, s.errorf("expected a quoted string or marker variable")
	}
	if quote := s.input[s.pos]; quote == '"' || quote == '\'' {
		s.pos++
		end := strings.IndexByte(s.rest(), quote)
		if end < 0 {
			return markerValue{}, s.errorf("unterminated string")
		}
		val := s.rest()[:end]
		s.pos += end + 1
		return markerValue{literal: true, value: val}, nil
	}
	for name := range markerVariables {
		if s.word(name) {
			return markerValue{value: name}, nil
		}
	}
	return markerValue{}, s.errorf("expected a quoted string or marker variable")
}

func (s *scanner) parseMarkerOp() (string, error) {
	s.skipSpace()
	for _, op := range []string{"===", "==", "!=", "<=", ">=", "<", ">", "~="} {
		if s.lit(op) {
			return op, nil
		}
	}
	switch {
	case s.word("in"):
		return "in", nil
	case s.word("not"):
		s.skipSpace()
		if !s.word("in") {
			return "", s.errorf("expected 'in' after 'not'")
		}
		return "not in", nil
	}
	return "", s.errorf("expected a comparison operator")
}
