package worker

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/practicehub/asset-cache/internal/cachestore"
	"github.com/practicehub/asset-cache/internal/httpclient"
	"github.com/practicehub/asset-cache/internal/metrics"
)

// Manager owns the cache partitions and runs the message protocol: bulk
// population with incremental progress, and eviction. Requests are handled
// one at a time in arrival order, like a single message loop.
type Manager struct {
	Store *cachestore.Store

	// Client may be nil; a client with PerFetchTimeout is used then.
	Client *http.Client

	// Origin resolves root-relative population URLs ("/a.mp3"). Empty means
	// such URLs fail their fetch attempt and are skipped.
	Origin string

	// Concurrency bounds parallel fetches within one job. <= 1 means
	// strictly sequential, which is the reference behavior.
	Concurrency int

	// PerFetchTimeout caps each fetch attempt so one unreachable host
	// cannot stall a job forever. Zero means httpclient.DefaultTimeout.
	PerFetchTimeout time.Duration

	// Limiter optionally paces outbound fetches. Nil means unpaced.
	Limiter *rate.Limiter

	once sync.Once
	reqs chan envelope
}

type envelope struct {
	ctx context.Context
	req Request
	out chan Response
}

func (m *Manager) init() {
	m.once.Do(func() {
		m.reqs = make(chan envelope)
	})
}

// Run consumes requests until ctx is cancelled. Call it once, from its own
// goroutine.
func (m *Manager) Run(ctx context.Context) {
	m.init()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.reqs:
			m.handle(e)
		}
	}
}

// Post submits a request and returns the response stream for it: zero or
// more CacheProgress, then at most one terminal response. The channel is
// closed after the terminal response. The caller must drain it. A CacheSet
// cancelled before the loop accepts it answers with CacheError; an
// UncacheSet just closes, since eviction has no error envelope.
func (m *Manager) Post(ctx context.Context, req Request) <-chan Response {
	m.init()
	// Buffer the whole response stream (N progress + 1 terminal) so a slow
	// reader can never stall the message loop.
	buf := 2
	if cs, ok := req.(CacheSet); ok {
		buf = len(cs.URLs) + 2
	}
	out := make(chan Response, buf)
	select {
	case m.reqs <- envelope{ctx: ctx, req: req, out: out}:
	case <-ctx.Done():
		if _, ok := req.(CacheSet); ok {
			out <- CacheError{Error: ctx.Err().Error()}
		}
		close(out)
	}
	return out
}

func cacheNameOr(name string) string {
	if name == "" {
		return DefaultCacheName
	}
	return name
}

func (m *Manager) handle(e envelope) {
	defer close(e.out)
	switch req := e.req.(type) {
	case CacheSet:
		m.populate(e.ctx, cacheNameOr(req.Cache), req.URLs, e.out)
	case UncacheSet:
		name := cacheNameOr(req.Cache)
		if err := m.Store.Delete(name); err != nil {
			// Eviction has no error message in the protocol; log and
			// acknowledge anyway, matching the reference behavior.
			log.Printf("worker: evict failed cache=%q err=%v", name, err)
		}
		m.send(e.ctx, e.out, UncacheDone{Cache: name})
	}
}

func (m *Manager) send(ctx context.Context, out chan<- Response, rsp Response) {
	select {
	case out <- rsp:
	case <-ctx.Done():
	}
}

// populate fetches every URL into the named cache, emitting one progress
// message per attempt. Individual failures are skipped and still counted in
// done; only an unusable store (or cancellation) aborts the job.
func (m *Manager) populate(ctx context.Context, cache string, rawURLs []string, out chan<- Response) {
	urls := make([]string, 0, len(rawURLs))
	for _, u := range rawURLs {
		r, ok := m.resolveURL(u)
		if !ok {
			log.Printf("worker: dropping invalid url=%q cache=%q", u, cache)
			continue
		}
		urls = append(urls, r)
	}
	total := len(urls)

	if err := m.Store.EnsureCache(cache); err != nil {
		log.Printf("worker: populate aborted cache=%q err=%v", cache, err)
		m.send(ctx, out, CacheError{Error: err.Error()})
		return
	}

	workers := m.Concurrency
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if m.Limiter != nil {
			if err := m.Limiter.Wait(ctx); err != nil {
				break
			}
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			defer func() { <-sem }()
			m.fetchOne(ctx, cache, u)
			// Progress is emitted under the counter lock so done values
			// reach the channel in order even with parallel workers.
			mu.Lock()
			done++
			m.send(ctx, out, CacheProgress{Done: done, Total: total})
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		log.Printf("worker: populate cancelled cache=%q done=%d total=%d", cache, done, total)
		// Best effort: the requester is usually gone when its ctx dies.
		select {
		case out <- CacheError{Error: err.Error()}:
		default:
		}
		return
	}
	log.Printf("worker: populate done cache=%q total=%d", cache, total)
	m.send(ctx, out, CacheDone{Cache: cache})
}

// fetchOne attempts a single URL. Failures are logged and counted, never
// propagated: the job continues and done still advances.
func (m *Manager) fetchOne(ctx context.Context, cache, u string) {
	metrics.PopulateAttempts.Inc()
	client := m.Client
	if client == nil {
		timeout := m.PerFetchTimeout
		if timeout <= 0 {
			timeout = httpclient.DefaultTimeout
		}
		client = httpclient.WithTimeout(timeout)
	}
	release := httpclient.GlobalHostSem.Acquire(u)
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		metrics.PopulateFailed.Inc()
		log.Printf("worker: bad url cache=%q url=%q err=%v", cache, u, err)
		return
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		metrics.PopulateFailed.Inc()
		log.Printf("worker: fetch failed cache=%q url=%q err=%v", cache, u, err)
		return
	}
	defer resp.Body.Close()
	if err := m.Store.Put(cache, u, resp); err != nil {
		metrics.PopulateFailed.Inc()
		log.Printf("worker: store failed cache=%q url=%q err=%v", cache, u, err)
		return
	}
	metrics.PopulateStored.Inc()
}

// resolveURL validates u and resolves root-relative URLs against Origin.
// Unparseable URLs are dropped before the job starts, so total reflects
// only attemptable URLs.
func (m *Manager) resolveURL(u string) (string, bool) {
	if u == "" {
		return "", false
	}
	if _, err := url.Parse(u); err != nil {
		return "", false
	}
	if strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") && m.Origin != "" {
		return strings.TrimSuffix(m.Origin, "/") + u, true
	}
	return u, true
}
