package cachestore

import (
	"compress/gzip"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Match/MatchIn when no partition holds the URL.
var ErrNotFound = errors.New("cachestore: not found")

// Store holds zero or more named cache partitions under one directory:
// a sqlite index (index.db) plus one body file per entry. Partitions are
// independent; Delete removes one partition without touching the others.
type Store struct {
	dir string
	db  *sql.DB
}

// Entry describes one stored response.
type Entry struct {
	Cache       string
	URL         string
	Status      int
	ContentType string
	Size        int64

	path string // body file path relative to the store dir
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	cache        TEXT NOT NULL,
	url          TEXT NOT NULL,
	path         TEXT NOT NULL,
	status       INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT 0,
	fetched_at   INTEGER NOT NULL,
	PRIMARY KEY (cache, url)
);`

// Open opens (creating if needed) a store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cachestore: create dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("cachestore: open index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cachestore: init index: %w", err)
	}
	return &Store{dir: dir, db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// NormalizeURL strips the query string and fragment: cache matching ignores
// the search part of a URL, so "/a.mp3?v=2" and "/a.mp3" are the same entry.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// EnsureCache makes sure the partition's body directory exists. Population
// jobs call this once up front so an unusable store fails the whole job
// instead of each entry.
func (s *Store) EnsureCache(cache string) error {
	if err := os.MkdirAll(filepath.Join(s.dir, partitionDir(cache)), 0755); err != nil {
		return fmt.Errorf("cachestore: open partition %q: %w", cache, err)
	}
	return s.db.Ping()
}

// Put stores resp (status, content type, decoded body) for rawURL in the
// named partition, replacing any previous entry. Only success responses are
// stored; anything outside 2xx is refused. resp.Body is consumed but not
// closed.
func (s *Store) Put(cache, rawURL string, resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("cachestore: refusing to store HTTP %d for %s", resp.StatusCode, rawURL)
	}
	normURL := NormalizeURL(rawURL)

	body, err := decodeBody(resp)
	if err != nil {
		return fmt.Errorf("cachestore: decode body: %w", err)
	}

	rel := bodyPath(cache, normURL)
	final := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return err
	}
	// Write to .partial, rename when complete, so a crashed put never leaves
	// a half body behind a committed index row.
	partial := final + ".partial"
	f, err := os.Create(partial)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, final); err != nil {
		os.Remove(partial)
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO entries (cache, url, path, status, content_type, size, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache, url) DO UPDATE SET
			path = excluded.path,
			status = excluded.status,
			content_type = excluded.content_type,
			size = excluded.size,
			fetched_at = excluded.fetched_at`,
		cache, normURL, rel, resp.StatusCode, resp.Header.Get("Content-Type"), n, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("cachestore: index put: %w", err)
	}
	return nil
}

// Match looks rawURL up across all partitions, ignoring the query string.
// When the same URL lives in several partitions the first hit wins; the
// order is unspecified and callers must not rely on it.
func (s *Store) Match(rawURL string) (*Entry, error) {
	return s.match(`SELECT cache, url, path, status, content_type, size FROM entries WHERE url = ? LIMIT 1`, NormalizeURL(rawURL))
}

// MatchIn looks rawURL up in one partition only.
func (s *Store) MatchIn(cache, rawURL string) (*Entry, error) {
	return s.match(`SELECT cache, url, path, status, content_type, size FROM entries WHERE cache = ? AND url = ? LIMIT 1`, cache, NormalizeURL(rawURL))
}

func (s *Store) match(query string, args ...any) (*Entry, error) {
	var e Entry
	err := s.db.QueryRow(query, args...).Scan(&e.Cache, &e.URL, &e.path, &e.Status, &e.ContentType, &e.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cachestore: match: %w", err)
	}
	return &e, nil
}

// OpenBody opens the stored body for an entry returned by Match/MatchIn.
func (s *Store) OpenBody(e *Entry) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, e.path))
}

// Delete removes the named partition: all index rows in one transaction,
// then the body directory. Other partitions are untouched.
func (s *Store) Delete(cache string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cachestore: delete %q: %w", cache, err)
	}
	if _, err := tx.Exec(`DELETE FROM entries WHERE cache = ?`, cache); err != nil {
		tx.Rollback()
		return fmt.Errorf("cachestore: delete %q: %w", cache, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cachestore: delete %q: %w", cache, err)
	}
	// Body files go after the index commit; a leftover body without an index
	// row is unreachable and harmless.
	return os.RemoveAll(filepath.Join(s.dir, partitionDir(cache)))
}

// Caches lists the partitions that currently hold at least one entry.
func (s *Store) Caches() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT cache FROM entries ORDER BY cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// decodeBody returns a reader over the plain body: brotli- and gzip-encoded
// responses are decoded before storage so cached bodies replay without any
// content-encoding state.
func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

func bodyPath(cache, normURL string) string {
	sum := sha1.Sum([]byte(normURL))
	return filepath.Join(partitionDir(cache), hex.EncodeToString(sum[:])+".body")
}

// partitionDir maps a cache name to a directory name. Stable: the same name
// always maps to the same directory.
func partitionDir(cache string) string {
	s := strings.ReplaceAll(cache, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "_")
	if s == "" || s == "." || s == ".." {
		s = "unnamed"
	}
	return s
}
