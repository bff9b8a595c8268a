package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/practicehub/asset-cache/internal/asset"
	"github.com/practicehub/asset-cache/internal/cachestore"
	"github.com/practicehub/asset-cache/internal/config"
	"github.com/practicehub/asset-cache/internal/health"
	"github.com/practicehub/asset-cache/internal/intercept"
	"github.com/practicehub/asset-cache/internal/manifest"
	"github.com/practicehub/asset-cache/internal/resolve"
	"github.com/practicehub/asset-cache/internal/worker"
)

const maxRequestBody = 1 << 20 // protocol envelopes are small

func main() {
	envFile := flag.String("env", ".env", "env file to load before reading ASSET_CACHE_* variables")
	listen := flag.String("listen", "", "listen address (overrides ASSET_CACHE_LISTEN)")
	cacheDir := flag.String("cache-dir", "", "cache directory (overrides ASSET_CACHE_DIR)")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Printf("main: env file load failed path=%q err=%v", *envFile, err)
	}
	cfg := config.Load()
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	store, err := cachestore.Open(cfg.CacheDir)
	if err != nil {
		log.Fatalf("main: open cache store dir=%q err=%v", cfg.CacheDir, err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	mgr := &worker.Manager{
		Store:           store,
		Origin:          cfg.UpstreamOrigin,
		Concurrency:     cfg.PopulateConcurrency,
		PerFetchTimeout: cfg.FetchTimeout,
		Limiter:         limiter,
	}
	go mgr.Run(ctx)

	loader := &manifest.Loader{StaticBase: cfg.StaticBase}
	staticRoot := resolve.StaticRootModePage
	if cfg.SinglePage {
		staticRoot = resolve.StaticRootSinglePage
	}
	resolver := resolve.Resolver{CDNBase: cfg.CDNBase, StaticRoot: staticRoot}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.Handler(store, cfg.UpstreamOrigin))
	mux.HandleFunc("/cache", protocolHandler(mgr, cfg.DefaultCache, worker.TypeCacheSet))
	mux.HandleFunc("/uncache", protocolHandler(mgr, cfg.DefaultCache, worker.TypeUncacheSet))
	mux.HandleFunc("/resolve", resolveHandler(resolver, loader))
	mux.Handle("/", &intercept.Handler{Store: store, Upstream: cfg.UpstreamOrigin})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatalf("main: listen addr=%q err=%v", cfg.ListenAddr, err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConns)

	srv := &http.Server{Handler: mux}
	go func() {
		log.Printf("main: serving addr=%q cache=%q origin=%q", cfg.ListenAddr, cfg.CacheDir, cfg.UpstreamOrigin)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("main: serve err=%v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Printf("main: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("main: shutdown err=%v", err)
	}
}

// protocolHandler runs one worker request and streams its responses as
// NDJSON: progress lines as they happen, then the terminal line.
func protocolHandler(mgr *worker.Manager, defaultCache, wantType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := worker.DecodeRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch t := req.(type) {
		case worker.CacheSet:
			if t.Cache == "" {
				t.Cache = defaultCache
			}
			req = t
		case worker.UncacheSet:
			if t.Cache == "" {
				t.Cache = defaultCache
			}
			req = t
		}
		if got := requestType(req); got != wantType {
			http.Error(w, fmt.Sprintf("endpoint handles %s, got %s", wantType, got), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for rsp := range mgr.Post(r.Context(), req) {
			data, err := worker.EncodeResponse(rsp)
			if err != nil {
				log.Printf("main: encode response err=%v", err)
				continue
			}
			w.Write(data)
			w.Write([]byte("\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func resolveHandler(resolver resolve.Resolver, loader *manifest.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		mode, err := asset.ParseMode(q.Get("mode"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		set := q.Get("set")
		if set == "" {
			http.Error(w, "missing set", http.StatusBadRequest)
			return
		}
		index, err := strconv.Atoi(q.Get("index"))
		if err != nil || index < 0 {
			http.Error(w, "bad index", http.StatusBadRequest)
			return
		}
		key := asset.Key{
			Set:      set,
			Mode:     mode,
			Index:    index,
			Hint:     q.Get("hint"),
			File:     q.Get("file"),
			Explicit: q.Get("explicit"),
		}
		var m *manifest.Manifest
		if q.Get("manifest") == "1" {
			m = loader.Load(r.Context(), set)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"url": resolver.Resolve(key, m)})
	}
}

func requestType(r worker.Request) string {
	switch r.(type) {
	case worker.CacheSet:
		return worker.TypeCacheSet
	case worker.UncacheSet:
		return worker.TypeUncacheSet
	default:
		return ""
	}
}
