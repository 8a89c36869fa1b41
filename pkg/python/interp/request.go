// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package interp discovers Python interpreters, and downloads and manages
// pyrun's own interpreter installs.
package interp

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/datawire/pyrun/pkg/python/pep440"
)

// A Request names which Python interpreter is wanted: a bare version prefix
// like "3" or "3.12" (any matching release), an exact version like "3.12.1",
// or a PEP 440 specifier set like ">=3.10,<3.13".
type Request struct {
	raw  string
	spec pep440.Specifier
}

//nolint:gochecknoglobals // Would be 'const'.
var reBareVersion = regexp.MustCompile(`^[0-9]+(\.[0-9]+){0,2}$`)

func ParseRequest(str string) (*Request, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return &Request{}, nil
	}
	specStr := str
	if reBareVersion.MatchString(str) {
		if strings.Count(str, ".") < 2 {
			specStr = "==" + str + ".*"
		} else {
			specStr = "==" + str
		}
	}
	spec, err := pep440.ParseSpecifier(specStr)
	if err != nil {
		return nil, fmt.Errorf("interp.ParseRequest: invalid interpreter request: %q: %w", str, err)
	}
	return &Request{raw: str, spec: spec}, nil
}

// FromSpecifier wraps an already-parsed specifier set (such as a script's
// requires-python constraint) as a Request.
func FromSpecifier(spec pep440.Specifier) *Request {
	return &Request{raw: spec.String(), spec: spec}
}

func (r *Request) String() string {
	if r == nil {
		return ""
	}
	return r.raw
}

// Matches reports whether an interpreter of the given version satisfies the
// request.  A nil or empty Request matches everything.
func (r *Request) Matches(ver pep440.Version) bool {
	if r == nil || len(r.spec) == 0 {
		return true
	}
	return r.spec.Match(ver)
}
