package pep503

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/datawire/pyrun/pkg/htmlutil"
	"github.com/datawire/pyrun/pkg/python"
)

// parseHTMLIndex parses the original HTML serialization of an index page;
// each <a> element is a link.
func (c Client) parseHTMLIndex(ctx context.Context, location *url.URL, content []byte) ([]Link, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	if c.HTMLHook != nil {
		if err := c.HTMLHook(ctx, doc); err != nil {
			return nil, err
		}
	}

	var links []Link
	if err := htmlutil.VisitHTML(doc, nil, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "a" {
			return nil
		}
		link := Link{
			DataAttrs: make(map[string]string),
		}
		for _, attr := range node.Attr {
			switch {
			case attr.Namespace == "" && attr.Key == "href":
				href, err := location.Parse(attr.Val)
				if err != nil {
					return err
				}
				link.HRef = href.String()
				link.Hashes = fragmentHashes(href.Fragment)
			case attr.Namespace == "" && strings.HasPrefix(attr.Key, "data-"):
				link.DataAttrs[attr.Key] = attr.Val
			}
		}
		var text strings.Builder
		_ = htmlutil.VisitHTML(node, nil, func(child *html.Node) error {
			if child.Type == html.TextNode {
				text.WriteString(child.Data)
			}
			return nil
		})
		link.Text = text.String()
		links = append(links, link)
		return nil
	}); err != nil {
		return nil, err
	}

	return links, nil
}

// fragmentHashes extracts "#algo=hexdigest" checksums from a URL fragment.
func fragmentHashes(fragment string) map[string]string {
	if fragment == "" {
		return nil
	}
	keyvals, err := url.ParseQuery(fragment)
	if err != nil {
		return nil
	}
	var hashes map[string]string
	for key, vals := range keyvals {
		if _, err := python.NewHash(key); err != nil || len(vals) == 0 {
			continue
		}
		if hashes == nil {
			hashes = make(map[string]string)
		}
		hashes[key] = vals[len(vals)-1]
	}
	return hashes
}
