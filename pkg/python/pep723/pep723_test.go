// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package pep723_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pyrun/pkg/python/pep723"
	"github.com/datawire/pyrun/pkg/testutil"
)

const demoScript = `#!/usr/bin/env python3
# /// script
# requires-python = ">=3.11"
# dependencies = [
#   "requests<3",
#   "rich",
# ]
#
# [tool.pyrun]
# exclude-newer = "2023-10-16T00:00:00Z"
# ///

import requests
from rich.pretty import pprint

resp = requests.get("https://peps.python.org/api/peps.json")
pprint([(k, v["title"]) for k, v in resp.json().items()][:10])
`

func TestFindBlock(t *testing.T) {
	t.Parallel()
	type testcase struct {
		InputStr      string
		OutputContent string // rendered; special value "-" means no block
		OutputErrPart string
	}
	testcases := map[string]testcase{
		"basic": {
			InputStr:      "# /// script\n# x = 1\n# ///\n",
			OutputContent: "x = 1\n",
		},
		"empty-lines": {
			InputStr:      "# /// script\n# x = 1\n#\n# y = 2\n# ///\n",
			OutputContent: "x = 1\n\ny = 2\n",
		},
		"no-block": {
			InputStr:      "print('hello')\n",
			OutputContent: "-",
		},
		"unclosed": {
			InputStr:      "# /// script\n# x = 1\nprint('hello')\n",
			OutputContent: "-",
		},
		"unclosed-at-eof": {
			InputStr:      "# /// script\n# x = 1",
			OutputContent: "-",
		},
		"other-type": {
			InputStr:      "# /// test\n# x = 1\n# ///\n",
			OutputContent: "-",
		},
		"multiple": {
			InputStr:      "# /// script\n# ///\n\n# /// script\n# ///\n",
			OutputErrPart: "multiple script blocks",
		},
		"not-at-top": {
			InputStr:      "import os\n\n# /// script\n# x = 1\n# ///\n",
			OutputContent: "x = 1\n",
		},
		"marker-in-string": {
			// The last "# ///" of the comment run closes the block,
			// so a "# ///" inside a TOML string stays inside.
			InputStr:      "# /// script\n# x = \"\"\"\n# # ///\n# \"\"\"\n# ///\n",
			OutputContent: "x = \"\"\"\n# ///\n\"\"\"\n",
		},
		"no-space-comment-breaks-run": {
			InputStr:      "# /// script\n#x = 1\n# ///\n",
			OutputContent: "-",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			block, err := pep723.FindBlock([]byte(tc.InputStr), "script")
			if tc.OutputErrPart != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.OutputErrPart)
				return
			}
			require.NoError(t, err)
			if tc.OutputContent == "-" {
				assert.Nil(t, block)
				return
			}
			require.NotNil(t, block)
			assert.Equal(t, "script", block.Type)
			assert.Equal(t, tc.OutputContent, block.Content)
		})
	}
}

func TestParseMetadata(t *testing.T) {
	t.Parallel()
	md, err := pep723.ParseMetadata([]byte(demoScript))
	require.NoError(t, err)
	require.NotNil(t, md)

	assert.Equal(t, ">=3.11", md.RequiresPython)
	assert.Equal(t, []string{"requests<3", "rich"}, md.Dependencies)
	assert.Equal(t, "2023-10-16T00:00:00Z", md.Tool.Pyrun.ExcludeNewer)

	spec, err := md.RequiresPythonSpecifier()
	require.NoError(t, err)
	assert.Len(t, spec, 1)

	reqs, err := md.Requirements()
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "requests", reqs[0].Name)
	assert.Equal(t, "rich", reqs[1].Name)

	cutoff, err := md.Tool.Pyrun.ExcludeNewerTime()
	require.NoError(t, err)
	require.NotNil(t, cutoff)
	assert.Equal(t, time.Date(2023, 10, 16, 0, 0, 0, 0, time.UTC), cutoff.UTC())
}

func TestParseMetadataErrors(t *testing.T) {
	t.Parallel()

	md, err := pep723.ParseMetadata([]byte("print('hello')\n"))
	require.NoError(t, err)
	assert.Nil(t, md)

	_, err = pep723.ParseMetadata([]byte("# /// script\n# not valid toml [\n# ///\n"))
	assert.Error(t, err)

	md, err = pep723.ParseMetadata([]byte("# /// script\n# dependencies = [\"-bogus\"]\n# ///\n"))
	require.NoError(t, err)
	require.NotNil(t, md)
	_, err = md.Requirements()
	assert.Error(t, err)

	_, err = (pep723.ToolSettings{ExcludeNewer: "yesterday"}).ExcludeNewerTime()
	assert.Error(t, err)
}

func TestSetDependencies(t *testing.T) {
	t.Parallel()
	type testcase struct {
		InputStr  string
		InputDeps []string
		OutputStr string
	}
	testcases := map[string]testcase{
		"replace": {
			InputStr:  demoScript,
			InputDeps: []string{"flask>=2", "rich"},
			OutputStr: strings.Replace(demoScript,
				"# dependencies = [\n#   \"requests<3\",\n#   \"rich\",\n# ]\n",
				"# dependencies = [\n#   \"flask>=2\",\n#   \"rich\",\n# ]\n", 1),
		},
		"empty-out": {
			InputStr:  "# /// script\n# dependencies = [\"requests\"]\n# ///\ncode()\n",
			InputDeps: nil,
			OutputStr: "# /// script\n# dependencies = []\n# ///\ncode()\n",
		},
		"single-line-array": {
			InputStr:  "# /// script\n# dependencies = []\n# ///\n",
			InputDeps: []string{"rich"},
			OutputStr: "# /// script\n# dependencies = [\n#   \"rich\",\n# ]\n# ///\n",
		},
		"missing-key-before-table": {
			InputStr:  "# /// script\n# requires-python = \">=3.8\"\n# [tool.pyrun]\n# exclude-newer = \"2023-10-16T00:00:00Z\"\n# ///\n",
			InputDeps: []string{"rich"},
			OutputStr: "# /// script\n# requires-python = \">=3.8\"\n# dependencies = [\n#   \"rich\",\n# ]\n# [tool.pyrun]\n# exclude-newer = \"2023-10-16T00:00:00Z\"\n# ///\n",
		},
		"no-block": {
			InputStr:  "print('hello')\n",
			InputDeps: []string{"rich"},
			OutputStr: "# /// script\n# dependencies = [\n#   \"rich\",\n# ]\n# ///\nprint('hello')\n",
		},
		"no-block-shebang": {
			InputStr:  "#!/usr/bin/env python3\nprint('hello')\n",
			InputDeps: []string{"rich"},
			OutputStr: "#!/usr/bin/env python3\n# /// script\n# dependencies = [\n#   \"rich\",\n# ]\n# ///\nprint('hello')\n",
		},
		"quoted-marker": {
			InputStr:  "# /// script\n# dependencies = []\n# ///\n",
			InputDeps: []string{`pywin32 ; sys_platform == "win32"`},
			OutputStr: "# /// script\n# dependencies = [\n#   \"pywin32 ; sys_platform == \\\"win32\\\"\",\n# ]\n# ///\n",
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			out, err := pep723.SetDependencies([]byte(tc.InputStr), tc.InputDeps)
			require.NoError(t, err)
			testutil.AssertEqualText(t, tc.OutputStr, string(out))

			// The result must decode, and its dependency list must be
			// what was set.
			md, err := pep723.ParseMetadata(out)
			require.NoError(t, err)
			require.NotNil(t, md)
			if len(tc.InputDeps) == 0 {
				assert.Empty(t, md.Dependencies)
			} else {
				assert.Equal(t, tc.InputDeps, md.Dependencies)
			}
		})
	}
}

func TestSetDependenciesErrors(t *testing.T) {
	t.Parallel()

	_, err := pep723.SetDependencies(
		[]byte("# /// script\n# dependencies = \"nope\"\n# ///\n"), []string{"rich"})
	assert.Error(t, err)

	_, err = pep723.SetDependencies(
		[]byte("# /// script\n# ///\n\n# /// script\n# ///\n"), []string{"rich"})
	assert.Error(t, err)
}

func TestFormatBlockRoundTrip(t *testing.T) {
	t.Parallel()
	content := "requires-python = \">=3.11\"\n\ndependencies = []\n"
	rendered := pep723.FormatBlock("script", content)
	block, err := pep723.FindBlock([]byte(rendered), "script")
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, content, block.Content)
}
