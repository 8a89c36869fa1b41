// Package simple_repo_api implements the PyPA Simple repository API.
//
// https://packaging.python.org/specifications/simple-repository-api/
//
// It ties together the PEPs that make up the API: pep503 (the HTML
// serialization and general client), pep691 (the JSON serialization, which
// pep503.Client also speaks), pep629 (repository version checks), pep592
// (yanked files), and pep425/pep440 (choosing which file to download).
package simple_repo_api

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/pyrun/pkg/python/pep425"
	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pep503"
	"github.com/datawire/pyrun/pkg/python/pep592"
	"github.com/datawire/pyrun/pkg/python/pep629"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
)

// Client is a pep503.Client that additionally knows the set of compatibility
// tags that the target Python installation supports, so that it can choose
// between the files of a release.
type Client struct {
	pep503.Client

	// Tags lists the compatibility tags supported by the target
	// installation, most-preferred first.  A nil Tags accepts any wheel.
	Tags pep425.Installer

	// ExcludeNewer, if set, keeps files uploaded after that instant from
	// being selected, so that re-resolving yields the same answer even as
	// the index grows.  Upload times are a PEP 700 field that only the JSON
	// serialization carries; a file whose upload time is unknown is kept,
	// with a warning.
	ExcludeNewer *time.Time
}

// NewClient returns a Client for the given target Python version and
// compatibility tags.  Both may be nil, in which case no filtering is done on
// that axis.
//
// The returned Client has repository-version checking hooked up and talks to
// PyPI; adjust the embedded pep503.Client fields to change that.
func NewClient(python *pep440.Version, tags pep425.Installer) *Client {
	return &Client{
		Client: pep503.Client{
			Python:   python,
			HTMLHook: pep629.HTMLVersionCheck,
			JSONHook: pep629.JSONVersionCheck,
		},
		Tags: tags,
	}
}

type wheelCandidate struct {
	link pep503.FileLink
	info bdist.FileNameData
}

// candidateCmp compares two wheels of the same release; <0 means that 'a' is
// the better choice, >0 that 'b' is.
func (c *Client) candidateCmp(a, b wheelCandidate) int {
	// Avoid yanked files when the release has un-yanked ones.
	if aYanked, bYanked := pep592.IsYanked(a.link), pep592.IsYanked(b.link); aYanked != bYanked {
		if bYanked {
			return -1
		}
		return 1
	}
	// More-preferred compatibility tag wins (lower Preference value).
	if d := c.Tags.Preference(a.info.CompatibilityTag) - c.Tags.Preference(b.info.CompatibilityTag); d != 0 {
		return d
	}
	// Higher build tag wins.
	return -a.info.BuildTag.Cmp(b.info.BuildTag)
}

// SelectWheel returns the best wheel for the named package: of the released
// versions that match the specifier, the highest (preferring versions that
// are not pre-releases and not yanked); of that version's compatible wheels,
// the one with the most-preferred compatibility tag, ties broken by build
// tag.
//
// Files that are not wheels (sdists) and wheels that the Client's Tags don't
// support are never selected.
func (c *Client) SelectWheel(ctx context.Context, pkgname string, spec pep440.Specifier) (*pep503.FileLink, error) {
	links, err := c.ListPackageFiles(ctx, pkgname)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string][]wheelCandidate)
	var versions []pep440.Version
	for _, link := range links {
		info, err := bdist.ParseFilename(link.Text)
		if err != nil {
			continue
		}
		if c.Tags != nil && !c.Tags.Supports(info.CompatibilityTag) {
			continue
		}
		if c.ExcludeNewer != nil {
			if link.UploadTime.IsZero() {
				dlog.Warnf(ctx, "exclude-newer: upload time of %q is unknown (HTML-only index?); keeping it",
					link.Text)
			} else if link.UploadTime.After(*c.ExcludeNewer) {
				continue
			}
		}
		key := info.Version.String()
		if _, seen := byVersion[key]; !seen {
			versions = append(versions, info.Version)
		}
		byVersion[key] = append(byVersion[key], wheelCandidate{link, *info})
	}

	exclude := pep440.MultiExcluder{
		pep592.ExcludeYanked(links),
	}
	if !spec.MentionsPreRelease() {
		exclude = append(exclude, pep440.ExcludePreReleases{})
	}
	version := spec.Select(versions, exclude)
	if version == nil {
		return nil, fmt.Errorf("package index has no wheel for %q matching %q that supports this platform",
			pkgname, spec.String())
	}

	candidates := byVersion[version.String()]
	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if c.candidateCmp(best, candidate) > 0 {
			best = candidate
		}
	}
	if pep592.IsYanked(best.link) {
		if reason := pep592.YankedReason(best.link); reason != "" {
			dlog.Warnf(ctx, "%q is yanked (%s), but nothing else satisfies %q", best.link.Text, reason, spec.String())
		} else {
			dlog.Warnf(ctx, "%q is yanked, but nothing else satisfies %q", best.link.Text, spec.String())
		}
	}
	ret := best.link
	return &ret, nil
}
