// Package collyfetcher implements the terms document fetch using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds the whole request. Zero leaves it unbounded.
	Timeout time.Duration
}

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) from %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Fetcher performs single GET requests with a Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
	)
	c.WithTransport(&verbatimTransport{base: newHTTPTransport()})

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch issues one GET against rawURL and returns the complete body exactly as received.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var (
		body     []byte
		received bool
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, &body, &received, &fetchErr)

	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return nil, err
	}
	if !received {
		return nil, fmt.Errorf("no response received from %s", rawURL)
	}
	return body, nil
}

// buildCollector clones the base collector and binds its requests to ctx, so
// cancellation tears down the in-flight request as well as the wait.
func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	body *[]byte,
	received *bool,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			*fetchErr = &StatusError{URL: r.Request.URL.String(), StatusCode: r.StatusCode}
			return
		}
		// make keeps a zero-length payload non-nil so it is stored as empty, not NULL.
		out := make([]byte, len(r.Body))
		copy(out, r.Body)
		*body = out
		*received = true
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// verbatimTransport drops the charset parameter from responses. Colly re-encodes
// bodies that declare a non UTF-8 charset, and the terms document must be stored
// byte for byte.
type verbatimTransport struct {
	base http.RoundTripper
}

func (t *verbatimTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err //nolint:wrapcheck // transport errors pass through untouched
	}
	stripCharset(resp.Header)
	return resp, nil
}

func stripCharset(h http.Header) {
	contentType := h.Get("Content-Type")
	if contentType == "" {
		return
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		h.Set("Content-Type", "application/octet-stream")
		return
	}
	if _, ok := params["charset"]; !ok {
		return
	}
	delete(params, "charset")
	h.Set("Content-Type", mime.FormatMediaType(mediaType, params))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
}
