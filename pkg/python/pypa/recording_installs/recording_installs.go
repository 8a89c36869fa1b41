// Package recording_installs implements the PyPA specification Recording installed projects.
//
// https://packaging.python.org/en/latest/specifications/recording-installed-packages/
package recording_installs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pypa/bdist"
	"github.com/datawire/pyrun/pkg/python/pypa/direct_url"
)

const defaultHashAlgorithm = "sha256"

// recordFile returns the RECORD row for an installed file: the path relative
// to baseDir (the site-packages directory; files outside of it get ".."
// components, the same as pip writes for scripts), the hash, and the size.
// Compiled ".pyc" files get neither a hash nor a size.
func recordFile(filename, hashName string, hasher hash.Hash, baseDir string) ([]string, error) {
	fpName, err := filepath.Rel(baseDir, filename)
	if err != nil {
		return nil, err
	}
	name := filepath.ToSlash(fpName)
	var hashStr, size string
	if !strings.HasSuffix(name, ".pyc") {
		hasher.Reset()
		reader, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = reader.Close()
		}()
		n, err := io.Copy(hasher, reader)
		if err != nil {
			return nil, err
		}
		hashStr = hashName + "=" + base64.RawURLEncoding.EncodeToString(hasher.Sum(nil))
		size = strconv.FormatInt(n, 10)
	}
	return []string{name, hashStr, size}, nil
}

// Record returns a bdist.PostInstallHook that writes the INSTALLER file, the
// direct_url.json file (if urlData is non-nil), and finally the RECORD file.
//
// Because RECORD must cover everything that the install wrote, Record must be
// the last hook in the bdist.PostInstallHooks chain.
func Record(hashName, installer string, urlData *direct_url.DirectURL) bdist.PostInstallHook {
	return func(ctx context.Context, inst *bdist.Install) error {
		// 1. The .dist-info directory

		// Trust the wheel to have the correct .dist-info dir.

		// 2. The METADATA file

		// Trust the wheel to have METADATA.

		// 4. The INSTALLER file
		installerFile := filepath.Join(inst.DistInfoDir, "INSTALLER")
		if err := os.WriteFile(installerFile, []byte(installer+"\n"), 0o644); err != nil {
			return fmt.Errorf("recording-installed-packages: INSTALLER: %w", err)
		}
		inst.Files = append(inst.Files, installerFile)

		// 5. The direct_url.json file
		if urlData != nil {
			if err := direct_url.Record(*urlData)(ctx, inst); err != nil {
				return fmt.Errorf("recording-installed-packages: direct_url.json: %w", err)
			}
		}

		// 3. The RECORD file
		// Do this last, so that it records all of the other files.
		if hashName == "" {
			hashName = defaultHashAlgorithm
		}
		hasher, err := python.NewHash(hashName)
		if err != nil {
			return fmt.Errorf("recording-installed-packages: %w", err)
		}
		siteDir := filepath.Dir(inst.DistInfoDir)
		csvData := [][]string{
			{path.Join(filepath.Base(inst.DistInfoDir), "RECORD"), "", ""},
		}
		seen := make(map[string]struct{}, len(inst.Files))
		for _, filename := range inst.Files {
			if _, dup := seen[filename]; dup {
				continue
			}
			seen[filename] = struct{}{}
			row, err := recordFile(filename, hashName, hasher, siteDir)
			if err != nil {
				return fmt.Errorf("recording-installed-packages: recording file %q: %w", filename, err)
			}
			csvData = append(csvData, row)
		}
		sort.Slice(csvData, func(i, j int) bool {
			return csvData[i][0] < csvData[j][0]
		})
		var recordBytes bytes.Buffer
		csvWriter := csv.NewWriter(&recordBytes)
		csvWriter.UseCRLF = true
		if err := csvWriter.WriteAll(csvData); err != nil {
			return err
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			return err
		}
		recordFilename := filepath.Join(inst.DistInfoDir, "RECORD")
		if err := os.WriteFile(recordFilename, recordBytes.Bytes(), 0o644); err != nil {
			return fmt.Errorf("recording-installed-packages: RECORD: %w", err)
		}

		return nil
	}
}
