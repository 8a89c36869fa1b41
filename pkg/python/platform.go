package python

import (
	"fmt"
	"path/filepath"

	"github.com/datawire/pyrun/pkg/python/pep425"
	"github.com/datawire/pyrun/pkg/python/pep440"
)

// A Platform describes a concrete Python installation, in enough detail to
// create virtual environments for it and to install wheels in to those
// environments.  Obtain one by introspecting a live interpreter with
// pyinspect.Dynamic, or by deserializing the output of `pyrun python inspect`.
type Platform struct {
	// ConsoleShebang and GraphicalShebang are the interpreter paths to use
	// in the shebang lines of installed entry-point scripts.  On every
	// platform that pyrun supports they are the same executable; the
	// distinction exists because Windows installs a separate pythonw.exe.
	ConsoleShebang   string // "/usr/bin/python3"
	GraphicalShebang string // "/usr/bin/python3"

	Implementation string // "cpython"

	Scheme Scheme

	VersionInfo *VersionInfo
	MagicNumber []byte
	Tags        pep425.Installer
}

// A VersionInfo is Python `sys.version_info`.
type VersionInfo struct {
	Major        int    `json:"major"`
	Minor        int    `json:"minor"`
	Micro        int    `json:"micro"`
	ReleaseLevel string `json:"releaselevel"` // 'alpha', 'beta', 'candidate', or 'final'
	Serial       int    `json:"serial"`
}

func (vi VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d", vi.Major, vi.Minor, vi.Micro)
}

// PEP440 renders the VersionInfo as a PEP 440 version, for matching against
// `requires-python` specifiers.
func (vi VersionInfo) PEP440() (*pep440.Version, error) {
	var ret pep440.Version
	ret.Release = []int{
		vi.Major,
		vi.Minor,
		vi.Micro,
	}
	switch vi.ReleaseLevel {
	case "alpha":
		ret.Pre = &pep440.PreRelease{L: "a", N: vi.Serial}
	case "beta":
		ret.Pre = &pep440.PreRelease{L: "b", N: vi.Serial}
	case "candidate":
		ret.Pre = &pep440.PreRelease{L: "rc", N: vi.Serial}
	case "final":
		ret.Pre = nil
	default:
		return nil, fmt.Errorf("python.VersionInfo.PEP440: invalid version_info.releaselevel: %q",
			vi.ReleaseLevel)
	}
	return &ret, nil
}

// A Scheme is a set of installation directories, as described in
// `sysconfig.get_paths()` (or, historically,
// `distutils.command.install.INSTALL_SCHEMES`).
type Scheme struct {
	PureLib string `json:"purelib"` // ".../lib/python3.9/site-packages"
	PlatLib string `json:"platlib"` // ".../lib64/python3.9/site-packages"
	Headers string `json:"headers"` // ".../include/python3.9/$name/" (e.g. $name=cpython)
	Scripts string `json:"scripts"` // ".../bin"
	Data    string `json:"data"`    // "..."
}

// Init normalizes the shebangs and validates that the scheme has absolute paths.
func (plat *Platform) Init() error {
	if plat.ConsoleShebang == "" && plat.GraphicalShebang == "" {
		return fmt.Errorf("platform does not specify a path to use for shebangs")
	}
	if plat.ConsoleShebang == "" {
		plat.ConsoleShebang = plat.GraphicalShebang
	}
	if plat.GraphicalShebang == "" {
		plat.GraphicalShebang = plat.ConsoleShebang
	}
	for _, pair := range []struct {
		name string
		val  string
	}{
		{"purelib", plat.Scheme.PureLib},
		{"platlib", plat.Scheme.PlatLib},
		{"headers", plat.Scheme.Headers},
		{"scripts", plat.Scheme.Scripts},
		{"data", plat.Scheme.Data},
	} {
		if !filepath.IsAbs(pair.val) {
			return fmt.Errorf("platform install scheme %q is not an absolute path: %q", pair.name, pair.val)
		}
	}
	return nil
}
