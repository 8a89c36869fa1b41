// Package direct_url implements the PyPA specification Recording the Direct URL Origin of
// installed distributions (AKA PEP 610).
//
// https://packaging.python.org/en/latest/specifications/direct-url/
package direct_url

import (
	"context"
	"os"
	"path/filepath"

	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
)

type DirectURL struct {
	URL         string       `json:"url"`
	VCSInfo     *VCSInfo     `json:"vcs_info,omitempty"`     // if URL is a VCS reference
	ArchiveInfo *ArchiveInfo `json:"archive_info,omitempty"` // if URL is a sdist or bdist
	DirInfo     *DirInfo     `json:"dir_info,omitempty"`     // if URL is a local directory
}

type VCSInfo struct {
	VCS               string `json:"vcs"`
	RequestedRevision string `json:"requested_revision,omitempty"`
	CommitID          string `json:"commit_id"`
}

type ArchiveInfo struct {
	Hash string `json:"hash,omitempty"`
}

type DirInfo struct {
	Editable bool `json:"editable,omitempty"`
}

// Record returns a bdist.PostInstallHook that writes the package's
// "{name}.dist-info/direct_url.json" file.  The file is formatted the way
// that pip's Python `json.dumps` call formats it, so that installs are
// byte-compatible with pip's.
func Record(urlData DirectURL) bdist.PostInstallHook {
	return func(_ context.Context, inst *bdist.Install) error {
		bs, err := jsonDumps(urlData)
		if err != nil {
			return err
		}
		filename := filepath.Join(inst.DistInfoDir, "direct_url.json")
		if err := os.WriteFile(filename, bs, 0o644); err != nil {
			return err
		}
		inst.Files = append(inst.Files, filename)
		return nil
	}
}
