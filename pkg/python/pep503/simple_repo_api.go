// Package pep503 implements PEP 503 -- Simple Repository API.
//
// https://www.python.org/dev/peps/pep-0503/
//
// This includes the PEP 691 JSON serialization of the API; a Client asks for
// JSON and falls back to parsing HTML when the server doesn't speak it.
package pep503

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/datawire/pyrun/pkg/python"
	"github.com/datawire/pyrun/pkg/python/pep345"
	"github.com/datawire/pyrun/pkg/python/pep440"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	// Python, if set, causes file listings to exclude files whose
	// "requires-python" excludes that Python version.
	Python *pep440.Version

	// HTMLHook and JSONHook are called with each index page before it is
	// parsed; pep629.HTMLVersionCheck and pep629.JSONVersionCheck go here.
	HTMLHook func(context.Context, *html.Node) error
	JSONHook func(context.Context, string) error
}

const PyPIBaseURL = "https://pypi.org/simple/"

const (
	mediaTypeJSON   = "application/vnd.pypi.simple.v1+json"
	mediaTypeHTMLv1 = "application/vnd.pypi.simple.v1+html"
	mediaTypeHTML   = "text/html"
)

//nolint:gochecknoglobals // Would be 'const'.
var indexAccept = strings.Join([]string{
	mediaTypeJSON,
	mediaTypeHTMLv1 + ";q=0.2",
	mediaTypeHTML + ";q=0.01",
}, ", ")

func (c *Client) fillDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = PyPIBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.UserAgent == "" {
		c.UserAgent = "github.com/datawire/pyrun/pkg/python/pep503"
	}
}

// NormalizePackageName normalizes a package name for use in repository URLs
// and comparisons; "this PEP references the concept of a normalized project
// name... run of the characters ., -, or _ replaced with a single -".
func NormalizePackageName(str string) string {
	return strings.ToLower(regexp.MustCompile("[-_.]+").ReplaceAllLiteralString(str, "-"))
}

type HTTPError struct {
	Status     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// get performs a GET request.  If the request URL has a "#algo=hexdigest"
// fragment naming a hash algorithm that Python's hashlib guarantees, the
// response body is verified against it.
func (c Client) get(ctx context.Context, requestURL, accept string) (_ *url.URL, _ string, _ []byte, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("GET %q => %w", requestURL, err)
		}
	}()
	c.fillDefaults()

	// 1. Build the request
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, "", nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	// 2. Do the networking
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", nil, err
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, "", nil, err
	}
	if err := resp.Body.Close(); err != nil {
		return nil, "", nil, err
	}

	// 3. Validate the result
	if resp.StatusCode != http.StatusOK {
		return nil, "", nil, &HTTPError{Status: resp.Status, StatusCode: resp.StatusCode}
	}
	if u, err := url.Parse(requestURL); err == nil && u.Fragment != "" {
		if keyvals, err := url.ParseQuery(u.Fragment); err == nil {
			for key, vals := range keyvals {
				hasher, err := python.NewHash(key)
				if err != nil {
					// Not a checksum fragment.
					continue
				}
				for _, val := range vals {
					hasher.Reset()
					_, _ = hasher.Write(content)
					if actual := hex.EncodeToString(hasher.Sum(nil)); actual != val {
						return nil, "", nil, fmt.Errorf("checksum mismatch: %s: expected=%s actual=%s",
							key, val, actual)
					}
				}
			}
		}
	}

	return resp.Request.URL, resp.Header.Get("Content-Type"), content, nil
}

// A Link is an entry in an index page: an <a> element of the HTML
// serialization, or a "projects"/"files" list member of the JSON
// serialization.
type Link struct {
	Text      string
	HRef      string
	DataAttrs map[string]string

	// Hashes come from the JSON "hashes" key, or from the HTML href's
	// "#algo=hexdigest" fragment.  Size and UploadTime are PEP 700
	// additions that only the JSON serialization carries.
	Hashes     map[string]string
	Size       int64
	UploadTime time.Time
}

// getIndex fetches and parses an index page in whichever serialization the
// server chose to respond with.
func (c Client) getIndex(ctx context.Context, requestURL string) ([]Link, error) {
	location, contentType, content, err := c.get(ctx, requestURL, indexAccept)
	if err != nil {
		return nil, err
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Legacy servers may not send a Content-Type at all.
		mediaType = mediaTypeHTML
	}
	switch mediaType {
	case mediaTypeJSON:
		return c.parseJSONIndex(ctx, location, content)
	case mediaTypeHTML, mediaTypeHTMLv1, "application/xhtml+xml":
		return c.parseHTMLIndex(ctx, location, content)
	default:
		return nil, fmt.Errorf("GET %q => unsupported Content-Type: %q", requestURL, contentType)
	}
}

type PackageLink struct {
	client Client
	Link
}

func (c Client) ListPackages(ctx context.Context) ([]PackageLink, error) {
	c.fillDefaults()
	rawLinks, err := c.getIndex(ctx, c.BaseURL)
	if err != nil {
		return nil, err
	}
	links := make([]PackageLink, 0, len(rawLinks))
	for _, link := range rawLinks {
		links = append(links, PackageLink{
			client: c,
			Link:   link,
		})
	}
	return links, nil
}

type FileLink struct {
	client Client
	Link
}

// fileLinks wraps raw index links as FileLinks, dropping files that the
// client's Python version can't use.
func (c Client) fileLinks(rawLinks []Link) []FileLink {
	links := make([]FileLink, 0, len(rawLinks))
	for _, link := range rawLinks {
		if c.Python != nil {
			if reqPy := link.DataAttrs["data-requires-python"]; reqPy != "" {
				ok, err := pep345.HaveRequiredPython(*c.Python, reqPy)
				if err == nil && !ok {
					continue
				}
			}
		}
		links = append(links, FileLink{
			client: c,
			Link:   link,
		})
	}
	return links
}

func (l PackageLink) ListFiles(ctx context.Context) ([]FileLink, error) {
	rawLinks, err := l.client.getIndex(ctx, l.HRef)
	if err != nil {
		return nil, err
	}
	return l.client.fileLinks(rawLinks), nil
}

func (c Client) ListPackageFiles(ctx context.Context, pkgname string) ([]FileLink, error) {
	// "the only valid characters in a name are the ASCII alphabet, ASCII numbers, `.`, `-`, and
	// `_`."
	for _, char := range pkgname {
		if !(('a' <= char && char <= 'z') ||
			('A' <= char && char <= 'Z') ||
			('0' <= char && char <= '9') ||
			char == '.' ||
			char == '-' ||
			char == '_') {
			return nil, fmt.Errorf("illegal character in pkgname: %q: %s",
				pkgname, strconv.QuoteRuneToASCII(char))
		}
	}

	c.fillDefaults()
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path.Join(u.Path, NormalizePackageName(pkgname))
	rawLinks, err := c.getIndex(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return c.fileLinks(rawLinks), nil
}

// GetFile fetches an arbitrary file URL with the same "#algo=hexdigest"
// checksum-fragment verification that index-derived links get.  For
// re-fetching files whose URL and hash were recorded earlier, without going
// back through an index page.
func (c Client) GetFile(ctx context.Context, fileURL string) ([]byte, error) {
	_, _, content, err := c.get(ctx, fileURL, "")
	return content, err
}

// PreferredHash returns the checksum to verify the linked file against.
func (l Link) PreferredHash() (algo, hexdigest string, ok bool) {
	return preferredHash(l.Hashes)
}

// preferredHash picks the hash to verify a download against, preferring
// sha256 because that is what both PyPI and pip prefer.
func preferredHash(hashes map[string]string) (key, val string, ok bool) {
	if hexdigest, found := hashes["sha256"]; found {
		return "sha256", hexdigest, true
	}
	keys := make([]string, 0, len(hashes))
	for key := range hashes {
		if _, err := python.NewHash(key); err == nil {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return "", "", false
	}
	sort.Strings(keys)
	return keys[0], hashes[keys[0]], true
}

func (l FileLink) Get(ctx context.Context) ([]byte, error) {
	requestURL := l.HRef
	// JSON responses carry hashes out-of-band rather than in a URL
	// fragment; graft the hash on so that get() verifies it.
	if u, err := url.Parse(l.HRef); err == nil && u.Fragment == "" && len(l.Hashes) > 0 {
		if key, val, ok := preferredHash(l.Hashes); ok {
			u.Fragment = key + "=" + val
			requestURL = u.String()
		}
	}
	_, _, content, err := l.client.get(ctx, requestURL, "")
	return content, err
}

// urlWithSuffix returns the link's URL with a suffix appended to the path and
// with any checksum fragment (which would not describe the new path) removed.
func (l FileLink) urlWithSuffix(suffix string) (string, error) {
	u, err := url.Parse(l.HRef)
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	u.Path += suffix
	return u.String(), nil
}

var ErrNoSignature = errors.New("no signature")

// GetSignature fetches the file's detached GPG signature, from the file's URL
// with ".asc" appended.
func (l FileLink) GetSignature(ctx context.Context) ([]byte, error) {
	sigURL, err := l.urlWithSuffix(".asc")
	if err != nil {
		return nil, err
	}
	switch l.DataAttrs["data-gpg-sig"] {
	case "false":
		return nil, ErrNoSignature
	case "true":
		_, _, content, err := l.client.get(ctx, sigURL, "")
		return content, err
	default:
		_, _, content, err := l.client.get(ctx, sigURL, "")
		var httpErr *HTTPError
		if err != nil && errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			err = ErrNoSignature
		}
		return content, err
	}
}

var ErrNoMetadata = errors.New("no dist-info metadata file")

// GetMetadata fetches the file's PEP 658 core-metadata sidecar; the wheel's
// METADATA file served from the file's URL with ".metadata" appended.
// Returns ErrNoMetadata if the index didn't advertise the sidecar.
func (l FileLink) GetMetadata(ctx context.Context) ([]byte, error) {
	attrVal, ok := l.DataAttrs["data-core-metadata"]
	if !ok {
		attrVal, ok = l.DataAttrs["data-dist-info-metadata"]
	}
	if !ok {
		return nil, ErrNoMetadata
	}
	metadataURL, err := l.urlWithSuffix(".metadata")
	if err != nil {
		return nil, err
	}
	// The attribute value is either "true" or "algo=hexdigest"; in the
	// latter case, have get() verify the checksum.
	if strings.Contains(attrVal, "=") {
		metadataURL += "#" + attrVal
	}
	_, _, content, err := l.client.get(ctx, metadataURL, "")
	return content, err
}
