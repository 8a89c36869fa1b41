// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package interp

import (
	"fmt"
	"runtime"

	"github.com/datawire/pyrun/pkg/python/pep440"
)

// DefaultBaseURL is where the python-build-standalone project publishes its
// release assets.
const DefaultBaseURL = "https://github.com/indygreg/python-build-standalone/releases/download"

// A Build names one python-build-standalone CPython release.
type Build struct {
	Version    string // CPython version number
	ReleaseTag string // python-build-standalone release date tag
}

// knownBuilds lists the CPython builds that pyrun knows how to install,
// newest first.  Bump this table when python-build-standalone cuts a release
// worth picking up.
//
//nolint:gochecknoglobals // Would be 'const'.
var knownBuilds = []Build{
	{Version: "3.10.6", ReleaseTag: "20220802"},
	{Version: "3.9.13", ReleaseTag: "20220802"},
	{Version: "3.8.13", ReleaseTag: "20220802"},
}

// target returns the "{triple}-{profile}" part of a python-build-standalone
// asset name for the host platform.
func target() (string, error) {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		return "x86_64-unknown-linux-gnu-pgo+lto", nil
	case "linux/arm64":
		return "aarch64-unknown-linux-gnu-noopt", nil
	case "darwin/amd64":
		return "x86_64-apple-darwin-pgo+lto", nil
	case "darwin/arm64":
		return "aarch64-apple-darwin-pgo+lto", nil
	case "windows/amd64":
		return "x86_64-pc-windows-msvc-shared-pgo", nil
	default:
		return "", fmt.Errorf("no known CPython builds for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

// assetURL returns the URL of the build's ".tar.zst" archive for the host
// platform; the archive's checksum is published at the same URL with
// ".sha256" appended.
func (b Build) assetURL(baseURL string) (string, error) {
	tgt, err := target()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/cpython-%s+%s-%s-full.tar.zst",
		baseURL, b.ReleaseTag, b.Version, b.ReleaseTag, tgt), nil
}

// installDirName is the directory name under the cache's pythons/ dir that
// the build unpacks to.
func (b Build) installDirName() string {
	return fmt.Sprintf("cpython-%s-%s-%s", b.Version, runtime.GOOS, runtime.GOARCH)
}

// matchBuild returns the newest known build satisfying the request.
func matchBuild(req *Request) (Build, error) {
	for _, build := range knownBuilds {
		ver, err := pep440.ParseVersion(build.Version)
		if err != nil {
			return Build{}, fmt.Errorf("malformed build table entry %q: %w", build.Version, err)
		}
		if req.Matches(*ver) {
			return build, nil
		}
	}
	if reqStr := req.String(); reqStr != "" {
		return Build{}, fmt.Errorf("no downloadable CPython build satisfies %q", reqStr)
	}
	return Build{}, fmt.Errorf("no downloadable CPython builds are known")
}
