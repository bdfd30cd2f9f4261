package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/logger"
)

const (
	cleanupEvery = 10 * time.Minute
	metaSuffix   = ".meta"
	partSuffix   = ".part"
)

// CachedFetcher keeps remote inputs on local disk.
// Each cached file gets a .meta sidecar with the validators the server sent;
// with revalidation on, a cached file is checked with a conditional GET.
type CachedFetcher struct {
	dir             string
	client          *http.Client
	revalidate      bool
	retainMaxAge    time.Duration
	retainMaxBytes  int64
	lastCleanupUnix atomic.Int64
}

type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Size         int64     `json:"size,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	LastChecked  time.Time `json:"last_checked"`
}

// CachedOption configures the fetcher
type CachedOption func(*CachedFetcher)

// WithRevalidate turns on conditional GETs for cached files
func WithRevalidate(on bool) CachedOption {
	return func(c *CachedFetcher) { c.revalidate = on }
}

// WithRetention sets age and size retention; zero disables either
func WithRetention(maxAge time.Duration, maxBytes int64) CachedOption {
	return func(c *CachedFetcher) {
		c.retainMaxAge = maxAge
		c.retainMaxBytes = maxBytes
	}
}

// NewCachedFetcher builds a fetcher caching under dir; base may be nil
func NewCachedFetcher(dir string, base *HTTPFetcher, opts ...CachedOption) *CachedFetcher {
	_ = os.MkdirAll(dir, 0o755)
	c := &CachedFetcher{dir: dir, client: base.client()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CachePath returns where ref is stored on disk
func (c *CachedFetcher) CachePath(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	base := path.Base(strings.SplitN(ref, "?", 2)[0])
	base = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, base)
	return filepath.Join(c.dir, hex.EncodeToString(sum[:8])+"-"+base)
}

// Open implements Opener
func (c *CachedFetcher) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	p := c.CachePath(ref)
	metaPath := p + metaSuffix

	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		if c.revalidate {
			rc, err := c.conditionalFetch(ctx, ref, p, metaPath)
			if err == nil {
				c.maybeCleanup()
				return rc, nil
			}
			logger.Named("events").Debug().Err(err).Str("ref", ref).Msg("revalidate failed, serving cached copy")
		}
		f, err := os.Open(p)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeIO, "open cached %s", ref)
		}
		c.maybeCleanup()
		return f, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "bad url %s", ref)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportErr(err, ref)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, statusErr(resp.StatusCode, ref)
	}
	rc, err := c.store(resp, ref, p, metaPath)
	if err != nil {
		return nil, err
	}
	c.maybeCleanup()
	return rc, nil
}

// conditionalFetch sends If-None-Match / If-Modified-Since from the sidecar
func (c *CachedFetcher) conditionalFetch(ctx context.Context, ref, p, metaPath string) (io.ReadCloser, error) {
	meta, _ := loadMeta(metaPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportErr(err, ref)
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		_ = resp.Body.Close()
		if meta == nil {
			meta = &cacheMeta{URL: ref}
		}
		meta.LastChecked = time.Now().UTC()
		_ = saveMeta(metaPath, meta)
		return os.Open(p)
	case http.StatusOK:
		return c.store(resp, ref, p, metaPath)
	default:
		_ = resp.Body.Close()
		return nil, statusErr(resp.StatusCode, ref)
	}
}

// store writes the body to p via a .part file and records the sidecar
func (c *CachedFetcher) store(resp *http.Response, ref, p, metaPath string) (io.ReadCloser, error) {
	defer func() { _ = resp.Body.Close() }()
	tmp := p + partSuffix
	defer func() { _ = os.Remove(tmp) }()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "cache dir")
	}
	out, err := os.Create(tmp)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "cache create")
	}
	n, werr := io.Copy(out, resp.Body)
	cerr := out.Close()
	if werr != nil {
		return nil, perr.Wrapf(werr, perr.ErrorCodeUnavailable, "download %s", ref)
	}
	if cerr != nil {
		return nil, perr.Wrap(cerr, perr.ErrorCodeIO, "cache close")
	}
	if err := os.Rename(tmp, p); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "cache rename")
	}

	now := time.Now().UTC()
	if err := saveMeta(metaPath, &cacheMeta{
		URL:          ref,
		ETag:         strings.TrimSpace(resp.Header.Get("ETag")),
		LastModified: strings.TrimSpace(resp.Header.Get("Last-Modified")),
		Size:         n,
		FetchedAt:    now,
		LastChecked:  now,
	}); err != nil {
		logger.Named("events").Warn().Err(err).Str("path", metaPath).Msg("cache meta write failed")
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeIO, "cache reopen")
	}
	return f, nil
}

func loadMeta(p string) (*cacheMeta, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var m cacheMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func saveMeta(p string, m *cacheMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := p + partSuffix
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// maybeCleanup runs retention at most once per cleanupEvery
func (c *CachedFetcher) maybeCleanup() {
	if c.retainMaxAge <= 0 && c.retainMaxBytes <= 0 {
		return
	}
	now := time.Now().Unix()
	last := c.lastCleanupUnix.Load()
	if last != 0 && now-last < int64(cleanupEvery/time.Second) {
		return
	}
	if !c.lastCleanupUnix.CompareAndSwap(last, now) {
		return
	}
	if err := c.cleanupOnce(); err != nil {
		logger.Named("events").Warn().Err(err).Str("dir", c.dir).Msg("cache cleanup failed")
	}
}

// cleanupOnce drops files older than the age limit, then oldest first until
// the directory fits the byte limit
func (c *CachedFetcher) cleanupOnce() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	type item struct {
		path    string
		size    int64
		fetched time.Time
	}
	var (
		items  []item
		total  int64
		cutoff = time.Now().Add(-c.retainMaxAge)
	)
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasSuffix(name, partSuffix) {
			continue
		}
		full := filepath.Join(c.dir, name)
		fi, err := os.Stat(full)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		fetched := fi.ModTime()
		if m, err := loadMeta(full + metaSuffix); err == nil && !m.FetchedAt.IsZero() {
			fetched = m.FetchedAt
		}
		if c.retainMaxAge > 0 && fetched.Before(cutoff) {
			removeCached(full)
			continue
		}
		items = append(items, item{path: full, size: fi.Size(), fetched: fetched})
		total += fi.Size()
	}

	if c.retainMaxBytes > 0 && total > c.retainMaxBytes {
		sort.Slice(items, func(i, j int) bool { return items[i].fetched.Before(items[j].fetched) })
		for _, it := range items {
			if total <= c.retainMaxBytes {
				break
			}
			removeCached(it.path)
			total -= it.size
		}
	}
	return nil
}

func removeCached(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Named("events").Debug().Err(err).Str("path", p).Msg("cache remove")
	}
	_ = os.Remove(p + metaSuffix)
}
