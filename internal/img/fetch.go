// internal/img/fetch.go
package img

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/socialcdn/image-pipeline/internal/asset"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxBytes     = 20 << 20 // 20 MiB
)

// Fetcher downloads source images over plain HTTP(S). Upstreams are
// untrusted: every response is bounded in time and size.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads sourceURL and returns the raw bytes. 4xx responses,
// non-image content types, and oversized bodies are non-retryable;
// network failures and 5xx responses are transient.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &asset.UpstreamError{URL: sourceURL, Reason: "malformed url"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, &asset.UpstreamError{URL: sourceURL, Reason: "malformed url"}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &asset.TransientError{Op: "download " + sourceURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &asset.UpstreamError{URL: sourceURL, StatusCode: resp.StatusCode}
	default:
		return nil, &asset.TransientError{
			Op:  "download " + sourceURL,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !supportedContentType(ct) {
		return nil, &asset.UpstreamError{URL: sourceURL, Reason: "unsupported content type " + ct}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &asset.TransientError{Op: "download " + sourceURL, Err: err}
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &asset.UpstreamError{
			URL:    sourceURL,
			Reason: fmt.Sprintf("body exceeds %d bytes", f.maxBytes),
		}
	}
	return body, nil
}

// supportedContentType accepts image types plus the generic octet-stream
// many CDNs serve; the decoder is the real gate.
func supportedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	return strings.HasPrefix(ct, "image/") || ct == "application/octet-stream"
}
