package calsync

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/crypto/blake2b"
)

const maxFeedBytes = 10 << 20

// Feed is one fetched calendar document.
type Feed struct {
	URL    string
	Body   []byte
	Digest string
}

type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (Feed, error)
}

// HTTPFetcher downloads feeds over HTTP(S). The client timeout bounds the
// whole exchange, body included.
type HTTPFetcher struct {
	hc        *http.Client
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, userAgent string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: userAgent,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Feed{}, &FeedFetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.hc.Do(req)
	if err != nil {
		return Feed{}, &FeedFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Feed{}, &FeedFetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return Feed{}, &FeedFetchError{URL: url, Err: err}
	}
	if len(body) > maxFeedBytes {
		return Feed{}, &FeedFetchError{URL: url, Err: fmt.Errorf("feed larger than %d bytes", maxFeedBytes)}
	}
	return Feed{URL: url, Body: body, Digest: Digest(body)}, nil
}

// Digest is the BLAKE2b-256 of the raw feed, hex encoded.
func Digest(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
