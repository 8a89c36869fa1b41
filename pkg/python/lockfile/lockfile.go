// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package lockfile reads and writes pyrun's TOML lockfiles.
//
// A lockfile records the fully-resolved set of wheels for a script, pinned
// by version and sha256, together with the inputs the resolution was made
// from; as long as the inputs are unchanged the recorded pins are reused
// without consulting the package index.
package lockfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"

	"github.com/datawire/pyrun/pkg/python"
)

// Version is the lockfile schema version that this package writes; files
// with any other version are stale.
const Version = 1

type Lockfile struct {
	Version        int       `toml:"version"`
	RequiresPython string    `toml:"requires-python,omitempty"`
	Requirements   []string  `toml:"requirements"`
	ExcludeNewer   string    `toml:"exclude-newer,omitempty"`
	Packages       []Package `toml:"package"`
}

// A Package pins one wheel.
type Package struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Filename string `toml:"filename"`
	URL      string `toml:"url"`
	SHA256   string `toml:"sha256"`
}

// Load reads a lockfile.  Nonexistence is reported as the underlying
// fs.ErrNotExist, so callers can distinguish "no lockfile yet" from a
// malformed one.
func Load(filename string) (*Lockfile, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var ret Lockfile
	if _, err := toml.Decode(string(bs), &ret); err != nil {
		return nil, fmt.Errorf("lockfile %q: %w", filename, err)
	}
	return &ret, nil
}

// Save atomically writes the lockfile.
func (lf *Lockfile) Save(filename string) error {
	var buf bytes.Buffer
	buf.WriteString("# Generated by pyrun.  Manual edits will be lost.\n")
	if err := toml.NewEncoder(&buf).Encode(lf); err != nil {
		return fmt.Errorf("lockfile %q: %w", filename, err)
	}
	return renameio.WriteFile(filename, buf.Bytes(), 0o644)
}

// Sort orders the pinned packages by name (then version, for the unusual
// case of one name resolving twice), so that lockfiles are deterministic.
func (lf *Lockfile) Sort() {
	sort.Slice(lf.Packages, func(i, j int) bool {
		if lf.Packages[i].Name != lf.Packages[j].Name {
			return lf.Packages[i].Name < lf.Packages[j].Name
		}
		return lf.Packages[i].Version < lf.Packages[j].Version
	})
}

// Fresh reports whether the lockfile was resolved from exactly these inputs
// and can be reused as-is.
func (lf *Lockfile) Fresh(requiresPython string, requirements []string, excludeNewer string) bool {
	if lf.Version != Version {
		return false
	}
	if lf.RequiresPython != requiresPython || lf.ExcludeNewer != excludeNewer {
		return false
	}
	if len(lf.Requirements) != len(requirements) {
		return false
	}
	for i := range requirements {
		if lf.Requirements[i] != requirements[i] {
			return false
		}
	}
	return true
}

// ResolutionKey derives the cache key under which the resolution for the
// given inputs is recorded: a digest over the full requirement set (declared
// dependencies plus any one-off additions), the interpreter's identity, and
// the index settings.  A repeat run whose inputs hash to the same key reuses
// the recorded pins without consulting the index at all.
func ResolutionKey(plat *python.Platform, indexURL, requiresPython string, requirements []string, excludeNewer string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "index=%s\n", indexURL)
	fmt.Fprintf(&sb, "implementation=%s\n", plat.Implementation)
	fmt.Fprintf(&sb, "version=%s\n", plat.VersionInfo)
	if len(plat.Tags) > 0 {
		fmt.Fprintf(&sb, "tag=%s\n", plat.Tags[0])
	}
	fmt.Fprintf(&sb, "requires-python=%s\n", requiresPython)
	fmt.Fprintf(&sb, "exclude-newer=%s\n", excludeNewer)
	reqs := make([]string, len(requirements))
	copy(reqs, requirements)
	sort.Strings(reqs)
	for _, req := range reqs {
		fmt.Fprintf(&sb, "req=%s\n", req)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// EnvKey derives the cache key of the environment that this lockfile
// installs in to on the given interpreter: a digest over the pinned set and
// the interpreter's identity, so that the same pins on the same Python reuse
// one environment.
func (lf *Lockfile) EnvKey(plat *python.Platform) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "implementation=%s\n", plat.Implementation)
	fmt.Fprintf(&sb, "version=%s\n", plat.VersionInfo)
	if len(plat.Tags) > 0 {
		fmt.Fprintf(&sb, "tag=%s\n", plat.Tags[0])
	}
	lines := make([]string, 0, len(lf.Packages))
	for _, pkg := range lf.Packages {
		lines = append(lines, fmt.Sprintf("pkg=%s==%s sha256:%s\n", pkg.Name, pkg.Version, pkg.SHA256))
	}
	sort.Strings(lines)
	for _, line := range lines {
		sb.WriteString(line)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
