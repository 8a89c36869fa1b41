// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package resolver computes the set of wheels to install for a list of PEP
// 508 requirements.
//
// The algorithm is deliberately simple: keep one growing constraint per
// package (the concatenation of every requirement seen for it), select the
// best wheel satisfying that constraint, and re-select whenever a later
// requirement invalidates an earlier selection.  Constraints only ever
// narrow, so this converges; what it cannot do is backtrack to an older
// version of one package to un-stick another, and it reports a conflict
// naming the competing requirers instead.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datawire/dlib/dlog"
	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/python/pep345"
	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pep503"
	"github.com/datawire/pyrun/pkg/python/pep508"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
	"github.com/datawire/pyrun/pkg/python/pypa/simple_repo_api"
)

// A Pin is one resolved package: a concrete wheel file, identified strongly
// enough to re-download and verify it without consulting the index again.
type Pin struct {
	Name     string // normalized
	Version  pep440.Version
	Filename string
	URL      string // fragment-free
	SHA256   string
}

type Resolver struct {
	// Client talks to the package index; its Python, Tags, and
	// ExcludeNewer fields scope what can be selected.
	Client *simple_repo_api.Client

	// Markers is the PEP 508 marker environment of the target interpreter
	// (pyinspect.DynamicInfo.MarkerEnvironment).
	Markers pep508.Environment

	// Cache stores downloaded wheel files.
	Cache cache.Cache
}

// A candidate is the resolver's working state for one package.
type candidate struct {
	name       string // normalized
	constraint pep440.Specifier
	sources    []string
	extras     map[string]struct{}
	direct     bool // pinned by a direct "name @ url" requirement
	pin        *Pin
	meta       *pep345.CoreMetadata
}

// A pending is a requirement waiting to be applied, with a human-readable
// label of what required it (for conflict messages).  Its marker has already
// been evaluated by whoever enqueued it.
type pending struct {
	req    *pep508.Requirement
	source string
}

// maxSteps caps the work loop.  A growing constraint can only narrow a
// package's selection, so resolution terminates on its own; the cap turns a
// resolver bug in to an error instead of a hang.
const maxSteps = 1000

// Resolve pins a wheel for every package that the given requirements
// (transitively) need on this platform.  source labels where the
// requirements came from, for error messages; "script.py", say.
func (r *Resolver) Resolve(ctx context.Context, reqs []*pep508.Requirement, source string) ([]Pin, error) {
	pkgs := make(map[string]*candidate)
	queue := make([]pending, 0, len(reqs))
	baseEnv := r.markerEnv("")
	for _, req := range reqs {
		if req.Marker != nil {
			applies, err := req.Marker.Eval(baseEnv)
			if err != nil {
				return nil, fmt.Errorf("requirement %q: %w", req, err)
			}
			if !applies {
				dlog.Debugf(ctx, "resolver: requirement %q does not apply to this platform", req)
				continue
			}
		}
		queue = append(queue, pending{req: req, source: source})
	}

	for steps := 0; len(queue) > 0; steps++ {
		if steps > maxSteps {
			return nil, fmt.Errorf("resolver: not converging after %d steps; giving up", maxSteps)
		}
		item := queue[0]
		queue = queue[1:]
		more, err := r.step(ctx, pkgs, item)
		if err != nil {
			return nil, err
		}
		queue = append(queue, more...)
	}

	pins := make([]Pin, 0, len(pkgs))
	for _, cand := range pkgs {
		// An index that serves hashes lets us pin without ever touching
		// the wheel itself; one that doesn't means downloading it now, so
		// that installs can still verify.
		if cand.pin.SHA256 == "" {
			_, digest, err := r.fetchWheel(ctx, cand.pin.URL, cand.pin.Filename, "")
			if err != nil {
				return nil, fmt.Errorf("package %q: %w", cand.name, err)
			}
			cand.pin.SHA256 = digest
		}
		pins = append(pins, *cand.pin)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].Name < pins[j].Name })
	return pins, nil
}

func (r *Resolver) step(ctx context.Context, pkgs map[string]*candidate, item pending) ([]pending, error) {
	name := item.req.NormalizedName()
	cand := pkgs[name]
	if cand == nil {
		cand = &candidate{name: name, extras: make(map[string]struct{})}
		pkgs[name] = cand
	}
	cand.constraint = append(cand.constraint, item.req.Specifier...)
	cand.sources = append(cand.sources, fmt.Sprintf("%s (%s)", item.source, item.req))

	var newExtras []string
	for _, extra := range item.req.Extras {
		extra = pep503.NormalizePackageName(extra)
		if _, ok := cand.extras[extra]; !ok {
			cand.extras[extra] = struct{}{}
			newExtras = append(newExtras, extra)
		}
	}

	if item.req.URL != "" {
		return r.stepDirect(ctx, cand, item, newExtras)
	}

	if cand.pin != nil && cand.constraint.Match(cand.pin.Version) {
		// The existing selection still satisfies everybody; only newly
		// requested extras can add work.
		return r.depRequests(cand, newExtras)
	}
	if cand.direct {
		return nil, conflictErr(cand, fmt.Errorf("%q is pinned to %s by a direct URL", cand.name, cand.pin.Version))
	}

	link, err := r.Client.SelectWheel(ctx, cand.name, cand.constraint)
	if err != nil {
		return nil, conflictErr(cand, err)
	}
	info, err := bdist.ParseFilename(link.Text)
	if err != nil {
		// SelectWheel only ever returns wheel links.
		return nil, fmt.Errorf("package %q: %w", cand.name, err)
	}
	pin := &Pin{
		Name:     cand.name,
		Version:  info.Version,
		Filename: link.Text,
		URL:      stripFragment(link.HRef),
	}
	if algo, hexdigest, ok := link.PreferredHash(); ok && algo == "sha256" {
		pin.SHA256 = hexdigest
	}
	if cand.pin != nil {
		dlog.Debugf(ctx, "resolver: %s: reselecting %s (had %s)", cand.name, pin.Version, cand.pin.Version)
	} else {
		dlog.Debugf(ctx, "resolver: %s: selected %s", cand.name, pin.Version)
	}
	cand.pin = pin

	meta, err := r.wheelMetadata(ctx, link, pin)
	if err != nil {
		return nil, fmt.Errorf("package %q: %w", cand.name, err)
	}
	cand.meta = meta
	if err := r.checkPin(ctx, cand); err != nil {
		return nil, err
	}

	// A (re)selection means (re)walking all of the package's dependencies.
	return r.depRequests(cand, append([]string{""}, setToSorted(cand.extras)...))
}

// stepDirect handles a "name @ url" requirement, which pins the package to
// one exact wheel with no index involvement.
func (r *Resolver) stepDirect(ctx context.Context, cand *candidate, item pending, newExtras []string) ([]pending, error) {
	if cand.pin != nil {
		if !cand.direct || cand.pin.URL != stripFragment(item.req.URL) {
			return nil, conflictErr(cand, fmt.Errorf("conflicting requirements for %q", cand.name))
		}
		return r.depRequests(cand, newExtras)
	}

	u, err := url.Parse(item.req.URL)
	if err != nil {
		return nil, fmt.Errorf("requirement %q: %w", item.req, err)
	}
	filename := path.Base(u.Path)
	info, err := bdist.ParseFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("requirement %q: only wheel URLs can be installed: %w", item.req, err)
	}
	if wheelFor := pep503.NormalizePackageName(info.Distribution); wheelFor != cand.name {
		return nil, fmt.Errorf("requirement %q: the URL is a wheel for %q", item.req, wheelFor)
	}

	pin := &Pin{
		Name:     cand.name,
		Version:  info.Version,
		Filename: filename,
		URL:      stripFragment(item.req.URL),
	}
	if keyvals, err := url.ParseQuery(u.Fragment); err == nil {
		pin.SHA256 = keyvals.Get("sha256")
	}
	wheelPath, digest, err := r.fetchWheel(ctx, item.req.URL, filename, pin.SHA256)
	if err != nil {
		return nil, fmt.Errorf("requirement %q: %w", item.req, err)
	}
	pin.SHA256 = digest
	dlog.Debugf(ctx, "resolver: %s: pinned directly to %s", cand.name, pin.URL)
	cand.pin = pin
	cand.direct = true

	content, err := bdist.ReadMetadata(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("requirement %q: %w", item.req, err)
	}
	meta, err := pep345.ParseMetadata(content)
	if err != nil {
		return nil, fmt.Errorf("requirement %q: %w", item.req, err)
	}
	cand.meta = meta
	if err := r.checkPin(ctx, cand); err != nil {
		return nil, err
	}

	return r.depRequests(cand, append([]string{""}, setToSorted(cand.extras)...))
}

// checkPin validates the freshly-pinned candidate against its own metadata:
// the version must support our Python, and requested extras should exist.
func (r *Resolver) checkPin(ctx context.Context, cand *candidate) error {
	if r.Client.Python != nil && len(cand.meta.RequiresPython) > 0 &&
		!cand.meta.RequiresPython.Match(*r.Client.Python) {
		return conflictErr(cand, fmt.Errorf("%s==%s does not support Python %s",
			cand.name, cand.pin.Version, r.Client.Python))
	}
	provided := make(map[string]struct{}, len(cand.meta.ProvidesExtra))
	for _, extra := range cand.meta.ProvidesExtra {
		provided[pep503.NormalizePackageName(extra)] = struct{}{}
	}
	for extra := range cand.extras {
		if _, ok := provided[extra]; !ok {
			dlog.Warnf(ctx, "package %s==%s does not provide the extra %q",
				cand.name, cand.pin.Version, extra)
		}
	}
	return nil
}

// depRequests turns the candidate's Requires-Dist entries in to pending
// requirements, for the given extras ("" being the package's base
// dependencies).  Entries whose markers rule them out on this platform are
// dropped here, so that dequeueing never needs to know which extra a
// requirement came in through.
func (r *Resolver) depRequests(cand *candidate, extras []string) ([]pending, error) {
	if cand.meta == nil || len(extras) == 0 {
		return nil, nil
	}
	source := fmt.Sprintf("%s==%s", cand.name, cand.pin.Version)
	wantBase := false
	for _, extra := range extras {
		if extra == "" {
			wantBase = true
		}
	}

	var ret []pending
	for _, depStr := range cand.meta.RequiresDist {
		dep, err := pep508.ParseRequirement(depStr)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", source, err)
		}
		applies := false
		if dep.Marker == nil {
			// Unconditional dependencies belong to the base set, which
			// the first selection already walked.
			applies = wantBase
		} else {
			for _, extra := range extras {
				ok, err := dep.Marker.Eval(r.markerEnv(extra))
				if err != nil {
					return nil, fmt.Errorf("package %s: requirement %q: %w", source, dep, err)
				}
				if ok {
					applies = true
					break
				}
			}
		}
		if applies {
			ret = append(ret, pending{req: dep, source: source})
		}
	}
	return ret, nil
}

// wheelMetadata obtains the selected wheel's core metadata, preferring the
// PEP 658 sidecar and falling back to downloading the wheel itself.  The
// fallback fills in pin.SHA256 as a side effect of having the bytes in hand.
func (r *Resolver) wheelMetadata(ctx context.Context, link *pep503.FileLink, pin *Pin) (*pep345.CoreMetadata, error) {
	content, err := link.GetMetadata(ctx)
	if err == nil {
		return pep345.ParseMetadata(content)
	}
	if errors.Is(err, pep503.ErrNoMetadata) {
		dlog.Debugf(ctx, "resolver: %s: no metadata sidecar; downloading the wheel instead",
			pin.Filename)
	} else {
		dlog.Debugf(ctx, "resolver: %s: fetching metadata sidecar: %v; downloading the wheel instead",
			pin.Filename, err)
	}

	wheelPath, digest, err := r.fetchWheel(ctx, link.HRef, pin.Filename, pin.SHA256)
	if err != nil {
		return nil, err
	}
	pin.SHA256 = digest
	content, err = bdist.ReadMetadata(wheelPath)
	if err != nil {
		return nil, err
	}
	return pep345.ParseMetadata(content)
}

// fetchWheel returns the on-disk cache path of a wheel, downloading it if it
// isn't cached yet.  A non-empty sha256hint both names the cache slot and is
// verified against the download; without one, the actual digest is computed
// and names the slot.
func (r *Resolver) fetchWheel(ctx context.Context, fileURL, filename, sha256hint string) (wheelPath, hexdigest string, err error) {
	if sha256hint != "" {
		dest := r.Cache.WheelFile(sha256hint, filename)
		if _, err := os.Stat(dest); err == nil {
			return dest, sha256hint, nil
		}
		if u, err := url.Parse(fileURL); err == nil && u.Fragment == "" {
			u.Fragment = "sha256=" + sha256hint
			fileURL = u.String()
		}
	}

	dlog.Infof(ctx, "downloading %s", filename)
	content, err := r.Client.GetFile(ctx, fileURL)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(content)
	hexdigest = hex.EncodeToString(sum[:])
	dest := r.Cache.WheelFile(hexdigest, filename)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", "", err
	}
	if err := renameio.WriteFile(dest, content, 0o644); err != nil {
		return "", "", err
	}
	return dest, hexdigest, nil
}

// WheelPath returns the on-disk path of the pin's wheel, downloading it in
// to the cache if needed.
func (r *Resolver) WheelPath(ctx context.Context, pin Pin) (string, error) {
	wheelPath, _, err := r.fetchWheel(ctx, pin.URL, pin.Filename, pin.SHA256)
	if err != nil {
		return "", fmt.Errorf("package %q: %w", pin.Name, err)
	}
	return wheelPath, nil
}

// Download fetches every pinned wheel that isn't already cached, a few at a
// time.
func (r *Resolver) Download(ctx context.Context, pins []Pin) error {
	grp, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, 4)
	for _, pin := range pins {
		pin := pin
		grp.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-sem }()
			_, err := r.WheelPath(ctx, pin)
			return err
		})
	}
	return grp.Wait()
}

func (r *Resolver) markerEnv(extra string) pep508.Environment {
	env := make(pep508.Environment, len(r.Markers)+1)
	for key, val := range r.Markers {
		env[key] = val
	}
	env["extra"] = extra
	return env
}

func stripFragment(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil {
		return fileURL
	}
	u.Fragment = ""
	return u.String()
}

func setToSorted(set map[string]struct{}) []string {
	ret := make([]string, 0, len(set))
	for member := range set {
		ret = append(ret, member)
	}
	sort.Strings(ret)
	return ret
}

func conflictErr(cand *candidate, err error) error {
	seen := make(map[string]struct{}, len(cand.sources))
	uniq := make([]string, 0, len(cand.sources))
	for _, src := range cand.sources {
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		uniq = append(uniq, src)
	}
	return fmt.Errorf("resolve %q (required by: %s): %w", cand.name, strings.Join(uniq, "; "), err)
}
