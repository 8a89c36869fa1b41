package testutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

//nolint:gochecknoglobals // Would be 'const'.
var spewConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisableCapacities:       true,
	DisablePointerAddresses: true,
	SortKeys:                true,
}

// DumpTreeListing renders a directory tree as a stable "ls -lR"-ish listing:
// one line per file with mode, size, and slash-separated relative path, in
// sorted order.
func DumpTreeListing(root string) (string, error) {
	type entry struct {
		relPath string
		mode    fs.FileMode
		size    int64
	}
	var entries []entry
	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		size := info.Size()
		if info.IsDir() {
			size = 0
		}
		entries = append(entries, entry{
			relPath: filepath.ToSlash(relPath),
			mode:    info.Mode(),
			size:    size,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })

	ret := new(strings.Builder)
	table := tabwriter.NewWriter(
		ret, // output
		0,   // minwidth
		1,   // tabwidth
		1,   // padding
		' ', // padchar
		0)   // flags
	for _, e := range entries {
		if _, err := fmt.Fprintln(table, strings.Join([]string{
			"",
			e.mode.String(),
			fmt.Sprintf("% 10d", e.size),
			e.relPath,
		}, "\t")); err != nil {
			return "", err
		}
	}
	if err := table.Flush(); err != nil {
		return "", err
	}
	return ret.String(), nil
}

// DumpTreeFull renders a directory tree with full file contents, for
// byte-level comparison.
func DumpTreeFull(root string) (string, error) {
	listing, err := DumpTreeListing(root)
	if err != nil {
		return "", err
	}

	var relPaths []string
	err = filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			relPaths = append(relPaths, filepath.ToSlash(relPath))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(relPaths)

	ret := new(strings.Builder)
	fmt.Fprintf(ret, "listing =\n%s", listing)
	for _, relPath := range relPaths {
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(ret, "content[%q] =%s", relPath, spewConfig.Sdump(content))
	}
	return ret.String(), nil
}

func unifiedDiff(expStr, actStr string) string {
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expStr),
		B:        difflib.SplitLines(actStr),
		FromFile: "Expected",
		ToFile:   "Actual",
		Context:  1,
	})
	return diff
}

// AssertEqualTrees compares two directory trees, failing with a readable
// unified diff when they differ.  The listings are compared first in order to
// fail fast with terse output before resorting to a full content diff.
func AssertEqualTrees(t *testing.T, exp, act string) bool {
	t.Helper()

	expStr, err := DumpTreeListing(exp)
	if err != nil {
		t.Errorf("error dumping expected tree listing: %v", err)
		return false
	}
	actStr, err := DumpTreeListing(act)
	if err != nil {
		t.Errorf("error dumping actual tree listing: %v", err)
		return false
	}
	if expStr != actStr {
		t.Errorf("Listing diff:\n%s", unifiedDiff(expStr, actStr))
		return false
	}

	expStr, err = DumpTreeFull(exp)
	if err != nil {
		t.Errorf("error dumping expected tree: %v", err)
		return false
	}
	actStr, err = DumpTreeFull(act)
	if err != nil {
		t.Errorf("error dumping actual tree: %v", err)
		return false
	}
	if expStr != actStr {
		t.Errorf("Full diff:\n%s", unifiedDiff(expStr, actStr))
		return false
	}

	return true
}

// AssertEqualText compares two multi-line strings, failing with a unified
// diff when they differ.
func AssertEqualText(t *testing.T, exp, act string) bool {
	t.Helper()
	if exp == act {
		return true
	}
	t.Errorf("Text diff:\n%s", unifiedDiff(exp, act))
	return false
}
