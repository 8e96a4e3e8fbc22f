// Package fetch performs bounded outbound HTTP requests on behalf of the
// adapters and the link checker. Every request carries a deadline, browser
// headers and goes through the URL guard, including each redirect hop.
package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/docutag/linkmeta/metrics"
	"github.com/docutag/linkmeta/urlguard"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// BrowserUserAgent is presented on every request; several platforms refuse
// clients without a browser-like agent.
const BrowserUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"

const (
	AcceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptJSON  = "application/json, text/javascript, */*;q=0.01"
	AcceptImage = "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8"
)

// Options configures a single call. Zero fields fall back to the client's
// defaults.
type Options struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxRedirects int           `yaml:"max_redirects"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// DefaultOptions returns the defaults used for metadata calls
func DefaultOptions() Options {
	return Options{
		Timeout:      10 * time.Second,
		UserAgent:    BrowserUserAgent,
		MaxRedirects: 5,
		MaxBodyBytes: 10 * 1024 * 1024, // 10MB
	}
}

// WithDefaults fills zero fields from fallback
func (o Options) WithDefaults(fallback Options) Options {
	if o.Timeout <= 0 {
		o.Timeout = fallback.Timeout
	}
	if o.UserAgent == "" {
		o.UserAgent = fallback.UserAgent
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = fallback.MaxRedirects
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = fallback.MaxBodyBytes
	}
	return o
}

// Config configures a Client
type Config struct {
	Guard    urlguard.Guard
	Defaults Options
	// BrowserTLS presents a Firefox TLS fingerprint on https requests
	BrowserTLS bool
	// Transport overrides the base round tripper. Used by tests.
	Transport http.RoundTripper
}

// Response is a fully read response
type Response struct {
	URL        *url.URL // Final URL after redirects
	StatusCode int
	Header     http.Header
	Body       []byte
	Truncated  bool // Body was cut at MaxBodyBytes
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is safe for concurrent use
type Client struct {
	httpClient *http.Client
	guard      urlguard.Guard
	defaults   Options
}

// NewClient builds a client whose transport is traced with otelhttp and whose
// dialer refuses private addresses.
func NewClient(cfg Config) *Client {
	defaults := cfg.Defaults.WithDefaults(DefaultOptions())

	base := cfg.Transport
	if base == nil {
		dialer := &net.Dialer{Timeout: defaults.Timeout, KeepAlive: 30 * time.Second}
		if cfg.BrowserTLS {
			base = newBrowserTransport(cfg.Guard, dialer)
		} else {
			base = &http.Transport{
				DialContext:           cfg.Guard.DialContext(dialer),
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: defaults.Timeout,
			}
		}
	}

	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(base),
			// Redirects are followed by hand so each hop passes the guard
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		guard:    cfg.Guard,
		defaults: defaults,
	}
}

// Guard returns the guard applied to every request
func (c *Client) Guard() urlguard.Guard {
	return c.guard
}

// Defaults returns the client-wide options
func (c *Client) Defaults() Options {
	return c.defaults
}

// Get fetches rawURL, following up to opts.MaxRedirects redirects. Non-2xx
// responses are returned, not treated as errors.
func (c *Client) Get(ctx context.Context, rawURL, accept string, opts Options) (*Response, error) {
	opts = opts.WithDefaults(c.defaults)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	current := rawURL
	for hop := 0; ; hop++ {
		valid, err := c.guard.Validate(current)
		if err != nil {
			metrics.FetchRequests.WithLabelValues(http.MethodGet, "blocked").Inc()
			return nil, err
		}

		resp, err := c.do(ctx, http.MethodGet, valid.URL, accept, opts)
		if err != nil {
			return nil, err
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				return &Response{URL: valid.URL, StatusCode: resp.StatusCode, Header: resp.Header}, nil
			}
			if hop >= opts.MaxRedirects {
				return nil, &Error{Method: http.MethodGet, URL: rawURL, Err: ErrTooManyRedirects}
			}
			next, err := valid.URL.Parse(location)
			if err != nil {
				return nil, &Error{Method: http.MethodGet, URL: location, Err: err}
			}
			current = next.String()
			continue
		}

		body, truncated, err := readLimited(resp.Body, opts.MaxBodyBytes)
		resp.Body.Close()
		if err != nil {
			return nil, c.classify(ctx, http.MethodGet, valid.URL.String(), err)
		}

		return &Response{
			URL:        valid.URL,
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			Truncated:  truncated,
		}, nil
	}
}

// Head issues a single HEAD request. Redirects are not followed; the caller
// sees the 3xx response and its Location header.
func (c *Client) Head(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	opts = opts.WithDefaults(c.defaults)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	valid, err := c.guard.Validate(rawURL)
	if err != nil {
		metrics.FetchRequests.WithLabelValues(http.MethodHead, "blocked").Inc()
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodHead, valid.URL, AcceptHTML, opts)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	return &Response{URL: valid.URL, StatusCode: resp.StatusCode, Header: resp.Header}, nil
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, accept string, opts Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, &Error{Method: method, URL: u.String(), Err: err}
	}
	setBrowserHeaders(req, opts.UserAgent, accept)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		ferr := c.classify(ctx, method, u.String(), err)
		outcome := "network"
		if ferr.Timeout {
			outcome = "timeout"
		}
		metrics.ObserveFetch(method, outcome, start)
		return nil, ferr
	}

	outcome := "ok"
	if resp.StatusCode >= 400 {
		outcome = "status"
	}
	metrics.ObserveFetch(method, outcome, start)

	slog.Debug("fetched", "method", method, "url", u.String(), "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

// classify wraps err and logs timeouts separately from other failures
func (c *Client) classify(ctx context.Context, method, rawURL string, err error) *Error {
	timeout := isTimeoutError(err) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	if timeout {
		slog.Warn("fetch timed out", "method", method, "url", rawURL, "error", err)
	} else {
		slog.Warn("fetch failed", "method", method, "url", rawURL, "error", err)
	}
	return &Error{Method: method, URL: rawURL, Timeout: timeout, Err: err}
}

func setBrowserHeaders(req *http.Request, userAgent, accept string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if accept == AcceptHTML {
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "none")
		req.Header.Set("Upgrade-Insecure-Requests", "1")
	} else {
		req.Header.Set("Sec-Fetch-Dest", "empty")
		req.Header.Set("Sec-Fetch-Mode", "cors")
		req.Header.Set("Sec-Fetch-Site", "cross-site")
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// readLimited reads at most limit bytes. Oversized bodies are cut rather than
// rejected; callers that care check the truncated flag.
func readLimited(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		return data, false, err
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
