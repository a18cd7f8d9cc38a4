// Package fetcher implements the blocking HTTP GET used to pull nested
// metadata documents and post-install scripts (spec §2 "Fetcher").
package fetcher

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Fetcher performs blocking HTTP GETs, following redirects and failing on
// any non-2xx final response (spec §7 "Transient external").
type Fetcher struct {
	Client *http.Client
}

// New returns a Fetcher with a client that follows redirects using Go's
// default (stdlib) redirect policy, matching spec §7's "following
// redirects (3xx)".
func New() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 60 * time.Second}}
}

// Get fetches url and returns its body. A non-2xx final status is a
// transient-external-class error (spec §7).
func (f *Fetcher) Get(url string) ([]byte, error) {
	resp, err := f.Client.Get(url)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading body of %s", url)
	}
	return body, nil
}

// IsURL reports whether path looks like an http(s):// source rather than
// a local filesystem path (spec §4.5 step 3).
func IsURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
