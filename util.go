package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/pyrun/pkg/cache"
	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/interp"
	"github.com/datawire/pyrun/pkg/python/lockfile"
	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pep503"
	"github.com/datawire/pyrun/pkg/python/pep508"
	"github.com/datawire/pyrun/pkg/python/pep723"
	"github.com/datawire/pyrun/pkg/python/pypa/simple_repo_api"
	"github.com/datawire/pyrun/pkg/python/resolver"
)

// EnvIndexURL overrides the package index base URL when --index-url is not
// given.
const EnvIndexURL = "PYRUN_INDEX_URL"

// A scriptFile is a script as handed to `pyrun run`: Display is what the user
// typed ("-" for stdin), Path is the on-disk file actually handed to the
// interpreter.
type scriptFile struct {
	Display string
	Path    string
	Source  []byte

	// GUI is whether to run the script under the graphical interpreter
	// variant (a .pyw file, on platforms that have one).
	GUI bool

	cleanup func()
}

// loadScript reads the script to run.  "-" reads stdin in to a temporary
// file, so that the interpreter always gets a real path.
func loadScript(arg string) (*scriptFile, error) {
	if arg == "-" {
		source, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		tmpfile, err := os.CreateTemp("", "pyrun-stdin-*.py")
		if err != nil {
			return nil, err
		}
		name := tmpfile.Name()
		if _, err := tmpfile.Write(source); err != nil {
			_ = tmpfile.Close()
			_ = os.Remove(name)
			return nil, err
		}
		if err := tmpfile.Close(); err != nil {
			_ = os.Remove(name)
			return nil, err
		}
		return &scriptFile{
			Display: "-",
			Path:    name,
			Source:  source,
			cleanup: func() { _ = os.Remove(name) },
		}, nil
	}

	source, err := os.ReadFile(arg)
	if err != nil {
		return nil, err
	}
	return &scriptFile{
		Display: arg,
		Path:    arg,
		Source:  source,
		GUI:     strings.EqualFold(filepath.Ext(arg), ".pyw"),
	}, nil
}

func (s *scriptFile) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// LockPath returns the lockfile path next to the script, or "" when the
// script has no on-disk home (stdin).
func (s *scriptFile) LockPath() string {
	if s.Display == "-" {
		return ""
	}
	return s.Path + ".lock"
}

// scriptInterpreter picks which of an environment's interpreters runs a
// script: the graphical variant for a GUI script, the console one otherwise.
func scriptInterpreter(env *python.Platform, script *scriptFile) string {
	if script.GUI {
		return env.GraphicalShebang
	}
	return env.ConsoleShebang
}

// scriptMetadata parses a script's inline metadata block; a script without
// one gets empty metadata.
func scriptMetadata(display string, source []byte) (*pep723.Metadata, error) {
	md, err := pep723.ParseMetadata(source)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", display, err)
	}
	if md == nil {
		md = &pep723.Metadata{}
	}
	return md, nil
}

// newDiscovery assembles the interpreter Discovery from the cache and the
// environment.
func newDiscovery(c cache.Cache) (interp.Discovery, error) {
	policy, err := interp.ParseDownloadPolicy(os.Getenv(interp.EnvPythonDownloads))
	if err != nil {
		return interp.Discovery{}, fmt.Errorf("$%s: %w", interp.EnvPythonDownloads, err)
	}
	return interp.Discovery{
		Cache:     c,
		Downloads: policy,
	}, nil
}

// findInterpreter picks the interpreter for a script.  --python wins over the
// script's requires-python, but the pick is still checked against
// requires-python (warn on conflict).
func findInterpreter(
	ctx context.Context,
	d interp.Discovery,
	pythonFlag string,
	md *pep723.Metadata,
) (*interp.Interp, error) {
	mdSpec, err := md.RequiresPythonSpecifier()
	if err != nil {
		return nil, err
	}

	var req *interp.Request
	if pythonFlag != "" {
		req, err = interp.ParseRequest(pythonFlag)
		if err != nil {
			return nil, err
		}
	} else if len(mdSpec) > 0 {
		req = interp.FromSpecifier(mdSpec)
	}

	in, err := d.Find(ctx, req)
	if err != nil {
		return nil, err
	}
	if pythonFlag != "" && len(mdSpec) > 0 && !mdSpec.Match(in.Version) {
		dlog.Warnf(ctx, "Python %s (from --python=%s) does not satisfy the script's requires-python = %q",
			in.Version, pythonFlag, md.RequiresPython)
	}
	return in, nil
}

// indexBaseURL resolves the effective package index base URL: the
// --index-url flag wins, then $PYRUN_INDEX_URL, then PyPI.
func indexBaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvIndexURL); env != "" {
		return env
	}
	return pep503.PyPIBaseURL
}

// newResolver assembles the index client and resolver for a target
// interpreter.  indexURL is the --index-url flag value.
func newResolver(
	c cache.Cache,
	in *interp.Interp,
	indexURL string,
	md *pep723.Metadata,
) (*resolver.Resolver, error) {
	excludeNewer, err := md.Tool.Pyrun.ExcludeNewerTime()
	if err != nil {
		return nil, err
	}
	client := simple_repo_api.NewClient(&in.Version, in.Platform.Tags)
	client.ExcludeNewer = excludeNewer
	client.BaseURL = indexBaseURL(indexURL)
	return &resolver.Resolver{
		Client:  client,
		Markers: in.Dynamic.MarkerEnvironment(),
		Cache:   c,
	}, nil
}

// resolvePins resolves a requirement set to a pinned wheel set, reusing a
// recorded resolution when one with identical inputs exists in the cache, so
// that a repeat run of an unchanged script does not touch the index.  force
// ignores any recorded resolution (the fresh result still replaces it).
func resolvePins(
	ctx context.Context,
	c cache.Cache,
	res *resolver.Resolver,
	plat *python.Platform,
	md *pep723.Metadata,
	reqs []*pep508.Requirement,
	source string,
	force bool,
) ([]resolver.Pin, error) {
	reqStrs := make([]string, len(reqs))
	for i, req := range reqs {
		reqStrs[i] = req.String()
	}
	recordFile := c.ResolutionFile(lockfile.ResolutionKey(
		plat, res.Client.BaseURL, md.RequiresPython, reqStrs, md.Tool.Pyrun.ExcludeNewer))
	if !force {
		if record, err := lockfile.Load(recordFile); err == nil && record.Version == lockfile.Version {
			dlog.Debugf(ctx, "reusing recorded resolution %q", recordFile)
			return lockfilePins(record)
		}
	}

	pins, err := res.Resolve(ctx, reqs, source)
	if err != nil {
		return nil, err
	}
	record := newLockfile(md, pins)
	record.Requirements = reqStrs
	if err := os.MkdirAll(c.ResolutionsDir(), 0o755); err != nil {
		return nil, err
	}
	if err := record.Save(recordFile); err != nil {
		return nil, err
	}
	return pins, nil
}

// newLockfile records a resolved pin set together with the inputs it was
// resolved from.
func newLockfile(md *pep723.Metadata, pins []resolver.Pin) *lockfile.Lockfile {
	lf := &lockfile.Lockfile{
		Version:        lockfile.Version,
		RequiresPython: md.RequiresPython,
		Requirements:   md.Dependencies,
		ExcludeNewer:   md.Tool.Pyrun.ExcludeNewer,
		Packages:       make([]lockfile.Package, 0, len(pins)),
	}
	for _, pin := range pins {
		lf.Packages = append(lf.Packages, lockfile.Package{
			Name:     pin.Name,
			Version:  pin.Version.String(),
			Filename: pin.Filename,
			URL:      pin.URL,
			SHA256:   pin.SHA256,
		})
	}
	lf.Sort()
	return lf
}

// lockfilePins is the inverse of newLockfile.
func lockfilePins(lf *lockfile.Lockfile) ([]resolver.Pin, error) {
	pins := make([]resolver.Pin, 0, len(lf.Packages))
	for _, pkg := range lf.Packages {
		ver, err := pep440.ParseVersion(pkg.Version)
		if err != nil {
			return nil, fmt.Errorf("lockfile package %q: %w", pkg.Name, err)
		}
		pins = append(pins, resolver.Pin{
			Name:     pkg.Name,
			Version:  *ver,
			Filename: pkg.Filename,
			URL:      pkg.URL,
			SHA256:   pkg.SHA256,
		})
	}
	return pins, nil
}

// upsertRequirement adds a requirement string to a dependency list, replacing
// any existing entry for the same package in place.  Entries that don't parse
// are left alone (they will fail loudly at resolve time, not during an edit
// of an unrelated package).
func upsertRequirement(deps []string, str string) ([]string, error) {
	req, err := pep508.ParseRequirement(str)
	if err != nil {
		return nil, err
	}
	name := req.NormalizedName()
	for i, dep := range deps {
		existing, err := pep508.ParseRequirement(dep)
		if err != nil {
			continue
		}
		if existing.NormalizedName() == name {
			deps[i] = str
			return deps, nil
		}
	}
	return append(deps, str), nil
}

// removeRequirement deletes the entry for a package from a dependency list;
// it is an error if there is none.
func removeRequirement(deps []string, pkgname string) ([]string, error) {
	name := pep503.NormalizePackageName(pkgname)
	ret := deps[:0]
	found := false
	for _, dep := range deps {
		if existing, err := pep508.ParseRequirement(dep); err == nil && existing.NormalizedName() == name {
			found = true
			continue
		}
		ret = append(ret, dep)
	}
	if !found {
		return nil, fmt.Errorf("the script's dependencies do not include %q", pkgname)
	}
	return ret, nil
}

// refreshLockfile re-resolves and rewrites SCRIPT.lock if one exists; the
// metadata-editing commands call this so that an existing lockfile never goes
// silently stale.  source is the script's post-edit content.
func refreshLockfile(ctx context.Context, scriptPath string, source []byte) error {
	lockPath := scriptPath + ".lock"
	if _, err := os.Stat(lockPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	md, err := scriptMetadata(scriptPath, source)
	if err != nil {
		return err
	}
	reqs, err := md.Requirements()
	if err != nil {
		return err
	}

	c, err := cache.Open()
	if err != nil {
		return err
	}
	d, err := newDiscovery(c)
	if err != nil {
		return err
	}
	in, err := findInterpreter(ctx, d, "", md)
	if err != nil {
		return err
	}
	res, err := newResolver(c, in, "", md)
	if err != nil {
		return err
	}
	pins, err := res.Resolve(ctx, reqs, scriptPath)
	if err != nil {
		return err
	}
	if err := newLockfile(md, pins).Save(lockPath); err != nil {
		return err
	}
	dlog.Infof(ctx, "updated lockfile %q", lockPath)
	return nil
}

// overrideEnv sets key=val in an environ slice, replacing an existing entry
// in place rather than appending a duplicate (a child's getenv only sees the
// first occurrence).
func overrideEnv(environ []string, key, val string) []string {
	prefix := key + "="
	for i, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			environ[i] = prefix + val
			return environ
		}
	}
	return append(environ, prefix+val)
}
