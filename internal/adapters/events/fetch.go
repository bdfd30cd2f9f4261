package events

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	perr "metxy/internal/platform/errors"
)

// Opener returns the raw bytes behind a file reference
type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// IsRemote reports whether ref is an http(s) URL
func IsRemote(ref string) bool {
	r := strings.ToLower(ref)
	return strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://")
}

// LocalOpener opens plain filesystem paths (file:// prefix allowed)
type LocalOpener struct{}

// Open implements Opener
func (LocalOpener) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	p := strings.TrimPrefix(ref, "file://")
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, perr.Wrapf(err, perr.ErrorCodeIO, "input %s missing", p)
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "open %s", p)
	}
	return f, nil
}

// HTTPFetcher streams remote files without caching
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcherWithTimeout builds a fetcher; zero means no client timeout
func NewHTTPFetcherWithTimeout(d time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: d}}
}

// Open implements Opener
func (f *HTTPFetcher) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "bad url %s", ref)
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, transportErr(err, ref)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, statusErr(resp.StatusCode, ref)
	}
	return resp.Body, nil
}

func (f *HTTPFetcher) client() *http.Client {
	if f == nil || f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

// transportErr marks network failures retryable unless the context ended
func transportErr(err error, ref string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return perr.Wrapf(err, perr.ErrorCodeIO, "fetch %s", ref)
	}
	return perr.Wrapf(err, perr.ErrorCodeUnavailable, "fetch %s", ref)
}

// statusErr maps 5xx and 429 to Unavailable so callers retry them; the rest are IO
func statusErr(code int, ref string) error {
	if code >= 500 || code == http.StatusTooManyRequests {
		return perr.Unavailablef("unexpected status %d for %s", code, ref)
	}
	return perr.IOf("unexpected status %d for %s", code, ref)
}

// Router sends http(s) refs to Remote and everything else to Local
type Router struct {
	Local  Opener
	Remote Opener
}

// Open implements Opener
func (r Router) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if IsRemote(ref) {
		if r.Remote == nil {
			return nil, perr.IOf("remote input %s but no fetcher configured", ref)
		}
		return r.Remote.Open(ctx, ref)
	}
	if r.Local == nil {
		return LocalOpener{}.Open(ctx, ref)
	}
	return r.Local.Open(ctx, ref)
}

// Open resolves ref through o and returns a row reader for its format
func Open(ctx context.Context, o Opener, ref string) (Reader, error) {
	format, _, err := DetectFormat(ref)
	if err != nil {
		return nil, err
	}
	rc, err := o.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	rd, err := NewReader(ctx, rc, format)
	if err != nil {
		return nil, perr.WithOp(err, ref)
	}
	return rd, nil
}
