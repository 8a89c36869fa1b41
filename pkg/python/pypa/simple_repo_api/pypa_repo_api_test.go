package simple_repo_api_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/pyrun/pkg/python/pep425"
	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pypa/simple_repo_api"
)

func parseVersion(t *testing.T, str string) *pep440.Version {
	t.Helper()
	ver, err := pep440.ParseVersion(str)
	require.NoError(t, err)
	return ver
}

func parseTags(t *testing.T, strs ...string) pep425.Installer {
	t.Helper()
	tags := make(pep425.Installer, 0, len(strs))
	for _, str := range strs {
		tag, err := pep425.ParseTag(str)
		require.NoError(t, err)
		tags = append(tags, tag)
	}
	return tags
}

// frobServer serves an index for a package "frob" with enough releases to
// exercise wheel selection: an sdist, build-tagged wheels, a native wheel, a
// yanked release, a pre-release, and a release that needs a newer Python.
func frobServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/frob" && r.URL.Path != "/simple/frob/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
			<html>
			<head><meta name="pypi:repository-version" content="1.0"><title>Links for frob</title></head>
			<body>
			<a href="../../packages/frob-0.9-py3-none-any.whl">frob-0.9-py3-none-any.whl</a>
			<a href="../../packages/frob-1.0.tar.gz">frob-1.0.tar.gz</a>
			<a href="../../packages/frob-1.0-py2-none-any.whl">frob-1.0-py2-none-any.whl</a>
			<a href="../../packages/frob-1.0-1-py3-none-any.whl">frob-1.0-1-py3-none-any.whl</a>
			<a href="../../packages/frob-1.0-2-py3-none-any.whl">frob-1.0-2-py3-none-any.whl</a>
			<a href="../../packages/frob-1.0-cp39-cp39-manylinux1_x86_64.whl">frob-1.0-cp39-cp39-manylinux1_x86_64.whl</a>
			<a href="../../packages/frob-1.1-py3-none-any.whl" data-yanked="broken">frob-1.1-py3-none-any.whl</a>
			<a href="../../packages/frob-1.2rc1-py3-none-any.whl">frob-1.2rc1-py3-none-any.whl</a>
			<a href="../../packages/frob-2.0-py3-none-any.whl" data-requires-python="&gt;=3.10">frob-2.0-py3-none-any.whl</a>
			</body>
			</html>`)
	})
	mux.HandleFunc("/packages/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "contents of %s\n", strings.TrimPrefix(r.URL.Path, "/packages/"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestSelectWheel(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		Tags      []string
		Spec      string
		OutputVal string // expected filename; empty for an error
	}{
		"highest-compatible": {
			// 1.1 is yanked, 1.2rc1 is a pre-release, and 2.0 needs
			// Python >=3.10; of 1.0's wheels the native one has the
			// more-preferred tag.
			Tags:      []string{"cp39-cp39-manylinux1_x86_64", "py3-none-any"},
			Spec:      ">=0.9",
			OutputVal: "frob-1.0-cp39-cp39-manylinux1_x86_64.whl",
		},
		"build-tag-tiebreak": {
			Tags:      []string{"py3-none-any"},
			Spec:      ">=0.9",
			OutputVal: "frob-1.0-2-py3-none-any.whl",
		},
		"pinned-yanked": {
			// "if the specifier matches only yanked releases, an
			// installer may use them"; ==1.1 can't be satisfied any
			// other way.
			Tags:      []string{"py3-none-any"},
			Spec:      "==1.1",
			OutputVal: "frob-1.1-py3-none-any.whl",
		},
		"prerelease-opt-in": {
			Tags:      []string{"py3-none-any"},
			Spec:      ">=1.2rc1",
			OutputVal: "frob-1.2rc1-py3-none-any.whl",
		},
		"no-match": {
			Tags: []string{"py3-none-any"},
			Spec: "==4.0",
		},
		"no-supported-tag": {
			Tags: []string{"cp27-cp27m-manylinux1_x86_64"},
			Spec: ">=0.9",
		},
	}
	server := frobServer(t)
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx := dlog.NewTestContext(t, true)

			client := simple_repo_api.NewClient(parseVersion(t, "3.9.9"), parseTags(t, tc.Tags...))
			client.BaseURL = server.URL + "/simple/"
			client.HTTPClient = server.Client()

			spec, err := pep440.ParseSpecifier(tc.Spec)
			require.NoError(t, err)

			link, err := client.SelectWheel(ctx, "frob", spec)
			if tc.OutputVal == "" {
				assert.Error(t, err)
				assert.Nil(t, link)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, link)
			assert.Equal(t, tc.OutputVal, link.Text)

			content, err := link.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, "contents of "+tc.OutputVal+"\n", string(content))
		})
	}
}

func TestSelectWheelNoTags(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	server := frobServer(t)

	// A nil tag list accepts any wheel; the py2 wheel has no build tag and
	// so loses the build-tag tie-break within version 1.0.
	client := simple_repo_api.NewClient(parseVersion(t, "3.9.9"), nil)
	client.BaseURL = server.URL + "/simple/"
	client.HTTPClient = server.Client()

	link, err := client.SelectWheel(ctx, "frob", pep440.MustParseSpecifier(">=0.9"))
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "frob-1.0-2-py3-none-any.whl", link.Text)
}

func TestSelectWheelExcludeNewer(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)

	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/frob" && r.URL.Path != "/simple/frob/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json")
		fmt.Fprint(w, `{
			"meta": {"api-version": "1.0"},
			"name": "frob",
			"files": [
				{"filename": "frob-1.0-py3-none-any.whl",
				 "url": "../../packages/frob-1.0-py3-none-any.whl",
				 "hashes": {},
				 "upload-time": "2022-01-15T00:00:00Z"},
				{"filename": "frob-2.0-py3-none-any.whl",
				 "url": "../../packages/frob-2.0-py3-none-any.whl",
				 "hashes": {},
				 "upload-time": "2022-07-15T00:00:00Z"}
			]
		}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := simple_repo_api.NewClient(nil, parseTags(t, "py3-none-any"))
	client.BaseURL = server.URL + "/simple/"
	client.HTTPClient = server.Client()

	// Without a cutoff the newest release wins.
	link, err := client.SelectWheel(ctx, "frob", pep440.MustParseSpecifier(""))
	require.NoError(t, err)
	assert.Equal(t, "frob-2.0-py3-none-any.whl", link.Text)

	// With a cutoff between the two uploads, 2.0 is not considered.
	cutoff := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	client.ExcludeNewer = &cutoff
	link, err = client.SelectWheel(ctx, "frob", pep440.MustParseSpecifier(""))
	require.NoError(t, err)
	assert.Equal(t, "frob-1.0-py3-none-any.whl", link.Text)
}
