package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/practicehub/asset-cache/internal/cachestore"
)

func newManager(t *testing.T, origin string, concurrency int) (*Manager, *cachestore.Store, context.CancelFunc) {
	t.Helper()
	store, err := cachestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	m := &Manager{Store: store, Origin: origin, Concurrency: concurrency}
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	return m, store, cancel
}

func collect(t *testing.T, out <-chan Response) []Response {
	t.Helper()
	var got []Response
	for rsp := range out {
		got = append(got, rsp)
	}
	return got
}

func audioOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.mp3", "/b.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			fmt.Fprint(w, "audio:"+r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPopulate_progressAndSkips(t *testing.T) {
	srv := audioOrigin(t)
	m, store, cancel := newManager(t, srv.URL, 1)
	defer cancel()

	out := m.Post(context.Background(), CacheSet{Cache: "c1", URLs: []string{"/a.mp3", "/bad-url", "/b.mp3"}})
	got := collect(t, out)

	if len(got) != 4 {
		t.Fatalf("got %d responses, want 3 progress + 1 done: %#v", len(got), got)
	}
	for i := 0; i < 3; i++ {
		p, ok := got[i].(CacheProgress)
		if !ok {
			t.Fatalf("response %d = %#v, want CacheProgress", i, got[i])
		}
		if p.Done != i+1 || p.Total != 3 {
			t.Errorf("progress %d = %+v, want {%d 3}", i, p, i+1)
		}
	}
	if d, ok := got[3].(CacheDone); !ok || d.Cache != "c1" {
		t.Errorf("terminal = %#v, want CacheDone{c1}", got[3])
	}

	for _, path := range []string{"/a.mp3", "/b.mp3"} {
		if _, err := store.MatchIn("c1", srv.URL+path); err != nil {
			t.Errorf("%s should be cached: %v", path, err)
		}
	}
	if _, err := store.MatchIn("c1", srv.URL+"/bad-url"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Errorf("/bad-url should not be cached, err = %v", err)
	}
}

func TestPopulate_defaultCacheName(t *testing.T) {
	srv := audioOrigin(t)
	m, store, cancel := newManager(t, srv.URL, 1)
	defer cancel()

	got := collect(t, m.Post(context.Background(), CacheSet{URLs: []string{"/a.mp3"}}))
	if d, ok := got[len(got)-1].(CacheDone); !ok || d.Cache != DefaultCacheName {
		t.Errorf("terminal = %#v, want CacheDone{%s}", got[len(got)-1], DefaultCacheName)
	}
	if _, err := store.MatchIn(DefaultCacheName, srv.URL+"/a.mp3"); err != nil {
		t.Errorf("entry should live in the default cache: %v", err)
	}
}

func TestPopulate_invalidURLsDroppedBeforeStart(t *testing.T) {
	srv := audioOrigin(t)
	m, _, cancel := newManager(t, srv.URL, 1)
	defer cancel()

	got := collect(t, m.Post(context.Background(), CacheSet{Cache: "c1", URLs: []string{"/a.mp3", "", "http://%zz"}}))
	var progress []CacheProgress
	for _, rsp := range got {
		if p, ok := rsp.(CacheProgress); ok {
			progress = append(progress, p)
		}
	}
	if len(progress) != 1 || progress[0].Total != 1 {
		t.Errorf("progress = %+v, want one attempt with total=1", progress)
	}
}

func TestPopulate_emptyList(t *testing.T) {
	m, _, cancel := newManager(t, "", 1)
	defer cancel()

	got := collect(t, m.Post(context.Background(), CacheSet{Cache: "c1"}))
	if len(got) != 1 {
		t.Fatalf("responses = %#v, want just CacheDone", got)
	}
	if d, ok := got[0].(CacheDone); !ok || d.Cache != "c1" {
		t.Errorf("terminal = %#v", got[0])
	}
}

func TestPopulate_monotonicUnderConcurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	m, _, cancel := newManager(t, srv.URL, 4)
	defer cancel()

	const n = 20
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("/f%d.mp3", i)
	}
	got := collect(t, m.Post(context.Background(), CacheSet{Cache: "c1", URLs: urls}))

	if len(got) != n+1 {
		t.Fatalf("got %d responses, want %d", len(got), n+1)
	}
	for i := 0; i < n; i++ {
		p, ok := got[i].(CacheProgress)
		if !ok {
			t.Fatalf("response %d = %#v", i, got[i])
		}
		if p.Done != i+1 || p.Total != n {
			t.Errorf("progress %d = %+v: done must increase by exactly 1", i, p)
		}
	}
	if _, ok := got[n].(CacheDone); !ok {
		t.Errorf("terminal = %#v", got[n])
	}
}

func TestPost_cancelledBeforeAccept(t *testing.T) {
	store, err := cachestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	// No Run loop: the request can never be accepted, so Post must answer
	// from the cancelled context alone.
	m := &Manager{Store: store}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := collect(t, m.Post(ctx, CacheSet{Cache: "c1", URLs: []string{"/a.mp3"}}))
	if len(got) != 1 {
		t.Fatalf("CacheSet: got %d responses, want 1: %#v", len(got), got)
	}
	if _, ok := got[0].(CacheError); !ok {
		t.Errorf("CacheSet terminal = %#v, want CacheError", got[0])
	}

	// Eviction has no error envelope; the stream just closes.
	got = collect(t, m.Post(ctx, UncacheSet{Cache: "c1"}))
	if len(got) != 0 {
		t.Errorf("UncacheSet: got %#v, want no responses", got)
	}
}

func TestUncache(t *testing.T) {
	srv := audioOrigin(t)
	m, store, cancel := newManager(t, srv.URL, 1)
	defer cancel()

	collect(t, m.Post(context.Background(), CacheSet{Cache: "c1", URLs: []string{"/a.mp3"}}))
	got := collect(t, m.Post(context.Background(), UncacheSet{Cache: "c1"}))
	if len(got) != 1 {
		t.Fatalf("responses = %#v", got)
	}
	if u, ok := got[0].(UncacheDone); !ok || u.Cache != "c1" {
		t.Errorf("terminal = %#v, want UncacheDone{c1}", got[0])
	}
	if _, err := store.MatchIn("c1", srv.URL+"/a.mp3"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Errorf("entry should be evicted, err = %v", err)
	}
}

func TestRequestsHandledInOrder(t *testing.T) {
	srv := audioOrigin(t)
	m, store, cancel := newManager(t, srv.URL, 1)
	defer cancel()

	// Population then eviction of the same cache: the second request must
	// not start before the first finishes.
	first := m.Post(context.Background(), CacheSet{Cache: "c1", URLs: []string{"/a.mp3"}})
	second := m.Post(context.Background(), UncacheSet{Cache: "c1"})
	collect(t, first)
	collect(t, second)
	if _, err := store.MatchIn("c1", srv.URL+"/a.mp3"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Errorf("eviction ran after population, entry should be gone: %v", err)
	}
}
