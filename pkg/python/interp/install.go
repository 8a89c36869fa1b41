// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package interp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/pyrun/pkg/dir"
)

// archiveRoot is the path inside a python-build-standalone "-full" archive
// that holds the usable install tree (next to build/ artifacts that we don't
// want).
const archiveRoot = "python/install"

func (d Discovery) get(ctx context.Context, requestURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "github.com/datawire/pyrun/pkg/python/interp")
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %q => %w", requestURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %q => HTTP %s", requestURL, resp.Status)
	}
	return resp, nil
}

// expectedChecksum fetches the hex digest that python-build-standalone
// publishes next to each asset.
func (d Discovery) expectedChecksum(ctx context.Context, assetURL string) (string, error) {
	resp, err := d.get(ctx, assetURL+".sha256")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(bs))
	if len(fields) == 0 {
		return "", fmt.Errorf("GET %q => empty checksum file", assetURL+".sha256")
	}
	return strings.ToLower(fields[0]), nil
}

// Install downloads and unpacks a managed CPython build satisfying req, and
// returns it.  If a satisfying build is already installed, it is reused
// without any network traffic.
func (d Discovery) Install(ctx context.Context, req *Request) (*Interp, error) {
	d.fillDefaults()
	if d.Downloads == DownloadNever {
		return nil, fmt.Errorf("would download CPython, but python-downloads is set to %q", DownloadNever)
	}

	build, err := matchBuild(req)
	if err != nil {
		return nil, err
	}
	installDir := filepath.Join(d.Cache.PythonsDir(), build.installDirName())

	if _, err := os.Stat(managedExe(installDir)); err == nil {
		in, err := d.inspect(ctx, managedExe(installDir))
		if err != nil {
			return nil, err
		}
		in.Managed = true
		return in, nil
	}

	assetURL, err := build.assetURL(d.BaseURL)
	if err != nil {
		return nil, err
	}
	expected, err := d.expectedChecksum(ctx, assetURL)
	if err != nil {
		return nil, err
	}

	dlog.Infof(ctx, "downloading CPython %s (python-build-standalone %s)", build.Version, build.ReleaseTag)
	resp, err := d.get(ctx, assetURL)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := os.MkdirAll(d.Cache.PythonsDir(), 0o755); err != nil {
		return nil, err
	}
	tmpDir, err := os.MkdirTemp(d.Cache.PythonsDir(), "."+build.installDirName()+".tmp-")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	// Unpack while hashing; nothing becomes visible under the final name
	// until the checksum has been verified.
	if err := unpackVerified(tmpDir, resp.Body, expected); err != nil {
		return nil, fmt.Errorf("GET %q => %w", assetURL, err)
	}

	if err := os.Rename(tmpDir, installDir); err != nil {
		// A concurrent pyrun beat us to it; its copy verified too.
		if _, statErr := os.Stat(managedExe(installDir)); statErr != nil {
			return nil, err
		}
	}

	in, err := d.inspect(ctx, managedExe(installDir))
	if err != nil {
		return nil, err
	}
	in.Managed = true
	return in, nil
}

func unpackVerified(destDir string, body io.Reader, expected string) error {
	hasher := sha256.New()
	tee := io.TeeReader(body, hasher)
	if err := dir.ExtractTarZst(destDir, archiveRoot, tee); err != nil {
		return err
	}
	// The tar reader stops at the end-of-archive marker; drain the rest so
	// that the hash covers the whole asset.
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return err
	}
	if actual := hex.EncodeToString(hasher.Sum(nil)); actual != expected {
		return fmt.Errorf("checksum mismatch: sha256: expected=%s actual=%s", expected, actual)
	}
	return nil
}
