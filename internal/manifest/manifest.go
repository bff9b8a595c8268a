package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/practicehub/asset-cache/internal/httpclient"
	"github.com/practicehub/asset-cache/internal/metrics"
)

// Manifest maps canonical asset keys ("<folder>/<set>/<filename>") to
// absolute URLs, optionally with a CDN base for keys that have no direct
// mapping. Not mutated after load; a repeated Load re-fetches, never merges.
type Manifest struct {
	Files map[string]string
	Base  string
}

// raw is the on-disk r2_manifest.json shape. Published manifests have named
// the base three different ways over time; all are accepted, first non-empty
// wins. Unknown keys are ignored.
type raw struct {
	Files      map[string]string `json:"files"`
	AssetsBase string            `json:"assetsBase"`
	CDN        string            `json:"cdn"`
	Base       string            `json:"base"`
}

// Loader fetches per-set manifests from a static base URL.
type Loader struct {
	// StaticBase is the static root the manifests are published under,
	// e.g. "https://host/static".
	StaticBase string

	// Client may be nil to use the shared default.
	Client *http.Client
}

// Load probes the per-set manifest first, then the global one. The first
// well-formed JSON response wins. Every failure (network, status, parse) is
// tolerated: it is logged and counted, and the next probe is tried. When
// both probes fail, Load returns nil — a missing manifest is a valid state
// and resolution falls back to CDN base or local paths.
func (l *Loader) Load(ctx context.Context, set string) *Manifest {
	client := l.Client
	if client == nil {
		client = httpclient.Default()
	}
	base := strings.TrimSuffix(l.StaticBase, "/")
	probes := []string{
		base + "/" + url.PathEscape(set) + "/r2_manifest.json",
		base + "/r2_manifest.json",
	}
	for _, probe := range probes {
		m, err := fetchOne(ctx, client, probe)
		if err != nil {
			metrics.ManifestProbeFailures.Inc()
			log.Printf("manifest: probe failed url=%q err=%v", probe, err)
			continue
		}
		return m
	}
	return nil
}

func fetchOne(ctx context.Context, client *http.Client, probeURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	// Manifests are re-published in place; never serve a stale copy.
	req.Header.Set("Cache-Control", "no-store")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var r raw
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m := &Manifest{Files: r.Files}
	if m.Files == nil {
		m.Files = map[string]string{}
	}
	for _, b := range []string{r.AssetsBase, r.CDN, r.Base} {
		if b != "" {
			m.Base = b
			break
		}
	}
	return m, nil
}
