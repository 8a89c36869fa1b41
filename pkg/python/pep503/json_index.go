package pep503

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// PEP 691 wire types.  "Projects" is only present on the root index, and
// "Files" only on project detail pages.
type jsonIndex struct {
	Meta     jsonMeta      `json:"meta"`
	Projects []jsonProject `json:"projects"`
	Files    []jsonFile    `json:"files"`
}

type jsonMeta struct {
	APIVersion string `json:"api-version"`
}

type jsonProject struct {
	Name string `json:"name"`
}

type jsonFile struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python"`
	// DistInfoMetadata (PEP 658) and CoreMetadata (its PEP 714 rename) are
	// each either a bool or an {"algo": "hexdigest"} object.
	DistInfoMetadata json.RawMessage `json:"dist-info-metadata"`
	CoreMetadata     json.RawMessage `json:"core-metadata"`
	GPGSig           *bool           `json:"gpg-sig"`
	// Yanked (PEP 592) is either a bool or a string holding the reason.
	Yanked json.RawMessage `json:"yanked"`
	// UploadTime and Size are PEP 700 additions.
	UploadTime string `json:"upload-time"`
	Size       int64  `json:"size"`
}

// parseJSONIndex parses the PEP 691 JSON serialization of an index page.
// The resulting Links carry the same DataAttrs that the HTML serialization's
// data-* attributes would, so that code downstream of the Client doesn't care
// which serialization the server spoke.
func (c Client) parseJSONIndex(ctx context.Context, location *url.URL, content []byte) ([]Link, error) {
	var index jsonIndex
	if err := json.Unmarshal(content, &index); err != nil {
		return nil, err
	}

	if c.JSONHook != nil {
		if err := c.JSONHook(ctx, index.Meta.APIVersion); err != nil {
			return nil, err
		}
	}

	links := make([]Link, 0, len(index.Projects)+len(index.Files))

	for _, project := range index.Projects {
		// The project list has no URL member; the detail page URL is
		// constructed from the normalized name.
		href, err := location.Parse(NormalizePackageName(project.Name) + "/")
		if err != nil {
			return nil, err
		}
		links = append(links, Link{
			Text:      project.Name,
			HRef:      href.String(),
			DataAttrs: make(map[string]string),
		})
	}

	for _, file := range index.Files {
		href, err := location.Parse(file.URL)
		if err != nil {
			return nil, err
		}
		link := Link{
			Text:      file.Filename,
			HRef:      href.String(),
			DataAttrs: make(map[string]string),
			Hashes:    file.Hashes,
			Size:      file.Size,
		}
		if file.RequiresPython != "" {
			link.DataAttrs["data-requires-python"] = file.RequiresPython
		}
		if file.GPGSig != nil {
			link.DataAttrs["data-gpg-sig"] = strconv.FormatBool(*file.GPGSig)
		}
		if yanked, reason := parseJSONYanked(file.Yanked); yanked {
			link.DataAttrs["data-yanked"] = reason
		}
		if val, ok := parseJSONMetadataAttr(file.CoreMetadata); ok {
			link.DataAttrs["data-core-metadata"] = val
		}
		if val, ok := parseJSONMetadataAttr(file.DistInfoMetadata); ok {
			link.DataAttrs["data-dist-info-metadata"] = val
		}
		if file.UploadTime != "" {
			uploadTime, err := time.Parse(time.RFC3339Nano, file.UploadTime)
			if err == nil {
				link.UploadTime = uploadTime
			}
		}
		links = append(links, link)
	}

	return links, nil
}

func parseJSONYanked(raw json.RawMessage) (yanked bool, reason string) {
	if len(raw) == 0 {
		return false, ""
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return true, s
	}
	return false, ""
}

// parseJSONMetadataAttr renders a PEP 658 metadata member the way the HTML
// serialization's attribute value spells it: "true", or "algo=hexdigest".
func parseJSONMetadataAttr(raw json.RawMessage) (val string, ok bool) {
	if len(raw) == 0 {
		return "", false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return "true", true
		}
		return "", false
	}
	var hashes map[string]string
	if err := json.Unmarshal(raw, &hashes); err == nil && len(hashes) > 0 {
		if hexdigest, found := hashes["sha256"]; found {
			return "sha256=" + hexdigest, true
		}
		keys := make([]string, 0, len(hashes))
		for key := range hashes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return keys[0] + "=" + hashes[keys[0]], true
	}
	return "", false
}
