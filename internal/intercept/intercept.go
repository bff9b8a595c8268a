package intercept

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/practicehub/asset-cache/internal/cachestore"
	"github.com/practicehub/asset-cache/internal/httpclient"
	"github.com/practicehub/asset-cache/internal/metrics"
)

// Handler serves fetches cache-first: every request is looked up across all
// cache partitions (query string ignored); a miss falls through to the
// network; a double miss answers with an empty 504 so the caller always
// gets a response.
type Handler struct {
	Store *cachestore.Store

	// Upstream is the origin this handler fronts; request paths are
	// resolved against it unless the request carries an explicit ?url=.
	Upstream string

	// Client may be nil to use the shared default.
	Client *http.Client
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := r.URL.Query().Get("url")
	if target == "" {
		if h.Upstream == "" {
			http.Error(w, "no upstream configured", http.StatusBadGateway)
			return
		}
		target = strings.TrimSuffix(h.Upstream, "/") + r.URL.Path
		// Match normalizes the query away on the cache leg; the network
		// leg forwards the request as made.
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
	}

	if e, err := h.Store.Match(target); err == nil {
		metrics.InterceptHits.Inc()
		h.serveEntry(w, r, e)
		return
	} else if !errors.Is(err, cachestore.ErrNotFound) {
		log.Printf("intercept: cache lookup failed url=%q err=%v", target, err)
	}
	metrics.InterceptMisses.Inc()
	h.proxy(w, r, target)
}

func (h *Handler) serveEntry(w http.ResponseWriter, r *http.Request, e *cachestore.Entry) {
	if e.ContentType != "" {
		w.Header().Set("Content-Type", e.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(e.Size, 10))
	w.WriteHeader(e.Status)
	if r.Method == http.MethodHead {
		return
	}
	body, err := h.Store.OpenBody(e)
	if err != nil {
		// Header already sent; nothing better to do than cut the body short.
		log.Printf("intercept: body missing cache=%q url=%q err=%v", e.Cache, e.URL, err)
		return
	}
	defer body.Close()
	io.Copy(w, body)
}

// proxy streams target from the network. On failure it answers with a
// synthetic empty 504 rather than an aborted connection, so page-level
// fetch chains never reject.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, target string) {
	client := h.Client
	if client == nil {
		client = httpclient.Default()
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, nil)
	if err != nil {
		h.gatewayTimeout(w, target, err)
		return
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	if v := r.Header.Get("Range"); v != "" {
		req.Header.Set("Range", v)
	}
	resp, err := client.Do(req)
	if err != nil {
		h.gatewayTimeout(w, target, err)
		return
	}
	defer resp.Body.Close()
	for _, k := range []string{"Content-Length", "Content-Type", "Accept-Ranges"} {
		if v := resp.Header.Get(k); v != "" {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (h *Handler) gatewayTimeout(w http.ResponseWriter, target string, err error) {
	metrics.InterceptFallbacks.Inc()
	log.Printf("intercept: network fallback failed url=%q err=%v", target, err)
	w.WriteHeader(http.StatusGatewayTimeout)
}
