package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/practicehub/asset-cache/internal/cachestore"
)

// CheckOrigin fetches the upstream static origin. Returns nil if OK, error with message if not.
// Some static hosts don't support HEAD; use GET and discard the body.
func CheckOrigin(ctx context.Context, origin string) error {
	if origin == "" {
		return fmt.Errorf("no upstream origin configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("origin unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("origin returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Handler answers /healthz: 200 with the current cache partitions, or 503
// when the store is unusable. When origin is set it is probed too; an
// unreachable origin degrades the status but stays 200, since cached
// assets still serve without it.
func Handler(store *cachestore.Store, origin string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names, err := store.Caches()
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}
		if names == nil {
			names = []string{}
		}
		body := map[string]any{"status": "ok", "caches": names}
		if origin != "" {
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			defer cancel()
			if err := CheckOrigin(ctx, origin); err != nil {
				body["status"] = "degraded"
				body["origin"] = err.Error()
			}
		}
		json.NewEncoder(w).Encode(body)
	}
}
