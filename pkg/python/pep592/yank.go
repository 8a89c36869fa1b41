// Copyright (C) 2021  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package pep592 implements PEP 592 -- Adding "Yank" Support to the Simple API.
//
// https://www.python.org/dev/peps/pep-0592/
package pep592

import (
	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pep503"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
)

func IsYanked(l pep503.FileLink) bool {
	_, yanked := l.DataAttrs["data-yanked"]
	return yanked
}

// YankedReason returns the reason string for a yanked file, which may be
// empty even for a yanked file.
func YankedReason(l pep503.FileLink) string {
	return l.DataAttrs["data-yanked"]
}

type excludeYanked struct {
	yankedVersions map[string]struct{}
}

// ExcludeYanked is a pep440.ExclusionBehavior that excludes versions for
// which every listed file is yanked; "installers MUST ignore yanked releases,
// if the selection constraints can be satisfied without them".  A version
// that has both yanked and un-yanked files is still allowed, since the
// un-yanked files can satisfy it.
func ExcludeYanked(links []pep503.FileLink) pep440.ExclusionBehavior {
	yanked := make(map[string]struct{})
	notYanked := make(map[string]struct{})
	for _, link := range links {
		fileInfo, err := bdist.ParseFilename(link.Text)
		if err != nil {
			continue
		}
		verStr := fileInfo.Version.String()
		if IsYanked(link) {
			yanked[verStr] = struct{}{}
		} else {
			notYanked[verStr] = struct{}{}
		}
	}
	for verStr := range notYanked {
		delete(yanked, verStr)
	}
	return excludeYanked{
		yankedVersions: yanked,
	}
}

func (e excludeYanked) Allow(v pep440.Version) bool {
	_, yanked := e.yankedVersions[v.String()]
	return !yanked
}
