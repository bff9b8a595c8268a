package resolve

import (
	"net/url"
	"strings"

	"github.com/practicehub/asset-cache/internal/asset"
	"github.com/practicehub/asset-cache/internal/manifest"
	"github.com/practicehub/asset-cache/internal/safeurl"
)

// Static roots relative to the page asking for the asset. Mode pages live
// two levels below the static root; the single-page app sits next to it.
const (
	StaticRootModePage   = "../../static"
	StaticRootSinglePage = "static"
)

// Resolver computes the URL for an asset key. All configuration is explicit;
// Resolve is a pure function of (key, manifest, Resolver fields) and never
// touches the network.
type Resolver struct {
	// CDNBase is the globally configured CDN base, used when the manifest
	// has no direct mapping and no base of its own. Empty disables it.
	CDNBase string

	// StaticRoot is the local fallback root. Empty means StaticRootModePage.
	StaticRoot string
}

// Resolve returns the URL to fetch for key, short-circuiting in order:
// explicit absolute URL on the key, manifest file mapping, manifest or
// configured CDN base + canonical key, local static fallback. It always
// returns some URL; whether an asset actually exists there is the caller's
// problem (a miss surfaces as a playback 404, by contract).
func (r Resolver) Resolve(key asset.Key, m *manifest.Manifest) string {
	if key.Explicit != "" && safeurl.IsAbsolute(key.Explicit) {
		return key.Explicit
	}

	mk := key.ManifestKey()
	if m != nil {
		if mapped := m.Files[mk]; mapped != "" {
			return mapped
		}
	}

	base := ""
	if m != nil {
		base = m.Base
	}
	if base == "" {
		base = r.CDNBase
	}
	if base != "" {
		return strings.TrimSuffix(base, "/") + "/" + mk
	}

	root := r.StaticRoot
	if root == "" {
		root = StaticRootModePage
	}
	// Escape each segment independently so a filename can never smuggle in
	// extra path components.
	return root + "/" + url.PathEscape(key.Set) + "/" + key.Mode.Folder() + "/" + url.PathEscape(key.Filename())
}
