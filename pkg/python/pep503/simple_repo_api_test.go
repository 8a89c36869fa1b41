package pep503_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/datawire/pyrun/pkg/python/pep440"
	"github.com/datawire/pyrun/pkg/python/pep503"
)

func parseVersion(t *testing.T, str string) *pep440.Version {
	t.Helper()
	ver, err := pep440.ParseVersion(str)
	require.NoError(t, err)
	return ver
}

func TestNormalizePackageName(t *testing.T) {
	t.Parallel()
	testcases := map[string]string{
		"frob":              "frob",
		"Frob_Thing":        "frob-thing",
		"frob.-_thing":      "frob-thing",
		"Twisted":           "twisted",
		"python__dateutil":  "python-dateutil",
		"ruamel.yaml.clib":  "ruamel-yaml-clib",
		"typing_extensions": "typing-extensions",
	}
	for input, expected := range testcases {
		assert.Equal(t, expected, pep503.NormalizePackageName(input))
	}
}

const (
	wheelBody    = "not really a wheel, but the client doesn't care\n"
	metadataBody = "Metadata-Version: 2.1\r\nName: demo\r\nVersion: 1.0\r\n"
)

func sha256Hex(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// demoServer serves a tiny package repository.  A modern server honors the
// Accept header and speaks the JSON serialization; a legacy one only ever
// speaks HTML.
func demoServer(t *testing.T, modern bool) *httptest.Server {
	t.Helper()
	wheelHex := sha256Hex(wheelBody)
	metadataHex := sha256Hex(metadataBody)

	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/demo" && r.URL.Path != "/simple/demo/" {
			http.NotFound(w, r)
			return
		}
		if modern && strings.Contains(r.Header.Get("Accept"), "application/vnd.pypi.simple.v1+json") {
			w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json")
			fmt.Fprintf(w, `{
				"meta": {"api-version": "1.0"},
				"name": "demo",
				"files": [
					{
						"filename": "demo-1.0-py3-none-any.whl",
						"url": "../../packages/demo-1.0-py3-none-any.whl",
						"hashes": {"sha256": %q},
						"requires-python": ">=3.7",
						"core-metadata": {"sha256": %q},
						"upload-time": "2022-02-04T14:13:53.000000Z",
						"size": 1234
					},
					{
						"filename": "demo-2.0-py3-none-any.whl",
						"url": "../../packages/demo-2.0-py3-none-any.whl",
						"hashes": {},
						"yanked": "broken"
					},
					{
						"filename": "demo-3.0-py3-none-any.whl",
						"url": "../../packages/demo-3.0-py3-none-any.whl",
						"hashes": {},
						"requires-python": ">=3.10"
					}
				]
			}`, wheelHex, metadataHex)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<!DOCTYPE html>
			<html>
			<head><meta name="pypi:repository-version" content="1.0"><title>Links for demo</title></head>
			<body>
			<a href="../../packages/demo-1.0-py3-none-any.whl#sha256=%s" data-requires-python="&gt;=3.7" data-core-metadata="sha256=%s">demo-1.0-py3-none-any.whl</a>
			<a href="../../packages/demo-2.0-py3-none-any.whl" data-yanked="broken">demo-2.0-py3-none-any.whl</a>
			<a href="../../packages/demo-3.0-py3-none-any.whl" data-requires-python="&gt;=3.10">demo-3.0-py3-none-any.whl</a>
			</body>
			</html>`, wheelHex, metadataHex)
	})
	mux.HandleFunc("/packages/demo-1.0-py3-none-any.whl", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(wheelBody))
	})
	mux.HandleFunc("/packages/demo-1.0-py3-none-any.whl.metadata", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(metadataBody))
	})
	mux.HandleFunc("/packages/demo-1.0-py3-none-any.whl.asc", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("SIGNATURE"))
	})
	mux.HandleFunc("/packages/demo-2.0-py3-none-any.whl", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tampered with\n"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func demoClient(t *testing.T, server *httptest.Server) pep503.Client {
	t.Helper()
	return pep503.Client{
		BaseURL:    server.URL + "/simple/",
		HTTPClient: server.Client(),
		Python:     parseVersion(t, "3.9.9"),
	}
}

func TestListPackageFiles(t *testing.T) {
	t.Parallel()

	type testcase struct {
		Modern   bool
		Expected []pep503.Link
	}
	testcases := map[string]testcase{
		"json": {
			Modern: true,
			Expected: []pep503.Link{
				{
					Text: "demo-1.0-py3-none-any.whl",
					HRef: "/packages/demo-1.0-py3-none-any.whl",
					DataAttrs: map[string]string{
						"data-requires-python": ">=3.7",
						"data-core-metadata":   "sha256=" + sha256Hex(metadataBody),
					},
					Hashes:     map[string]string{"sha256": sha256Hex(wheelBody)},
					Size:       1234,
					UploadTime: time.Date(2022, 2, 4, 14, 13, 53, 0, time.UTC),
				},
				{
					Text:      "demo-2.0-py3-none-any.whl",
					HRef:      "/packages/demo-2.0-py3-none-any.whl",
					DataAttrs: map[string]string{"data-yanked": "broken"},
					Hashes:    map[string]string{},
				},
			},
		},
		"html": {
			Modern: false,
			Expected: []pep503.Link{
				{
					Text: "demo-1.0-py3-none-any.whl",
					HRef: "/packages/demo-1.0-py3-none-any.whl#sha256=" + sha256Hex(wheelBody),
					DataAttrs: map[string]string{
						"data-requires-python": ">=3.7",
						"data-core-metadata":   "sha256=" + sha256Hex(metadataBody),
					},
					Hashes: map[string]string{"sha256": sha256Hex(wheelBody)},
				},
				{
					Text:      "demo-2.0-py3-none-any.whl",
					HRef:      "/packages/demo-2.0-py3-none-any.whl",
					DataAttrs: map[string]string{"data-yanked": "broken"},
				},
			},
		},
	}

	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			ctx := dlog.NewTestContext(t, true)
			server := demoServer(t, tc.Modern)
			client := demoClient(t, server)

			var sawAPIVersion string
			htmlHookCalls := 0
			client.JSONHook = func(_ context.Context, apiVersion string) error {
				sawAPIVersion = apiVersion
				return nil
			}
			client.HTMLHook = func(_ context.Context, _ *html.Node) error {
				htmlHookCalls++
				return nil
			}

			links, err := client.ListPackageFiles(ctx, "demo")
			require.NoError(t, err)
			require.Len(t, links, len(tc.Expected))
			for i := range tc.Expected {
				expected := tc.Expected[i]
				expected.HRef = server.URL + expected.HRef
				assert.Equal(t, expected, links[i].Link)
			}
			if tc.Modern {
				assert.Equal(t, "1.0", sawAPIVersion)
				assert.Equal(t, 0, htmlHookCalls)
			} else {
				assert.Equal(t, "", sawAPIVersion)
				assert.Equal(t, 1, htmlHookCalls)
			}
		})
	}
}

func listDemoFiles(ctx context.Context, t *testing.T, server *httptest.Server) []pep503.FileLink {
	t.Helper()
	links, err := demoClient(t, server).ListPackageFiles(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, links, 2)
	return links
}

func TestFileLinkGet(t *testing.T) {
	t.Parallel()
	for _, modern := range []bool{true, false} {
		modern := modern
		name := "html"
		if modern {
			name = "json"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := dlog.NewTestContext(t, true)
			server := demoServer(t, modern)
			links := listDemoFiles(ctx, t, server)

			content, err := links[0].Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, wheelBody, string(content))
		})
	}
}

func TestFileLinkGetChecksumMismatch(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)

	// Like demoServer, but advertising a hash that the served file does
	// not have.
	mux := http.NewServeMux()
	mux.HandleFunc("/simple/demo/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json")
		fmt.Fprintf(w, `{
			"meta": {"api-version": "1.0"},
			"name": "demo",
			"files": [
				{
					"filename": "demo-2.0-py3-none-any.whl",
					"url": "/packages/demo-2.0-py3-none-any.whl",
					"hashes": {"sha256": %q}
				}
			]
		}`, sha256Hex(wheelBody))
	})
	mux.HandleFunc("/packages/demo-2.0-py3-none-any.whl", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tampered with\n"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	links, err := demoClient(t, server).ListPackageFiles(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, links, 1)

	_, err = links[0].Get(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestFileLinkGetSignature(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	server := demoServer(t, true)
	links := listDemoFiles(ctx, t, server)

	// links[0] has a signature; note that the ".asc" has to be fetched
	// without the wheel's checksum fragment.
	sig, err := links[0].GetSignature(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SIGNATURE", string(sig))

	// links[1] has none, and the server 404s.
	_, err = links[1].GetSignature(ctx)
	assert.True(t, errors.Is(err, pep503.ErrNoSignature), "expected ErrNoSignature, got %v", err)
}

func TestFileLinkGetMetadata(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)
	server := demoServer(t, true)
	links := listDemoFiles(ctx, t, server)

	metadata, err := links[0].GetMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, metadataBody, string(metadata))

	_, err = links[1].GetMetadata(ctx)
	assert.True(t, errors.Is(err, pep503.ErrNoMetadata), "expected ErrNoMetadata, got %v", err)
}

func TestListPackages(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, true)

	mux := http.NewServeMux()
	mux.HandleFunc("/simple/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.pypi.simple.v1+json")
		fmt.Fprint(w, `{
			"meta": {"api-version": "1.0"},
			"projects": [
				{"name": "Frob_Thing"},
				{"name": "demo"}
			]
		}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	packages, err := demoClient(t, server).ListPackages(ctx)
	require.NoError(t, err)
	require.Len(t, packages, 2)
	assert.Equal(t, "Frob_Thing", packages[0].Text)
	assert.Equal(t, server.URL+"/simple/frob-thing/", packages[0].HRef)
	assert.Equal(t, "demo", packages[1].Text)
	assert.Equal(t, server.URL+"/simple/demo/", packages[1].HRef)
}
