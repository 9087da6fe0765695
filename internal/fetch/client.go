package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

// Response is the raw outcome of one HTTP fetch before any content analysis.
type Response struct {
	URL            string
	StatusCode     int
	Headers        map[string]string
	Body           string
	ResponseTimeMs float64
	ProxyUsed      string
}

// Request carries the parameters of one fetch attempt. The strategy bundle
// decides timeout, headers, and whether a proxy is used.
type Request struct {
	URL      string
	Bundle   config.StrategyBundle
	Proxy    string // endpoint chosen by the caller; empty = direct
	MaxBody  int64
}

// Client executes fetches with per-proxy transport reuse and per-domain rate
// smoothing. It classifies transport failures into the Kind taxonomy.
type Client struct {
	limiter *ratelimit.DomainLimiter

	mu         sync.Mutex
	transports map[string]*http.Transport

	uaIndex atomic.Int64
}

// NewClient creates a fetch client.
func NewClient(limiter *ratelimit.DomainLimiter) *Client {
	return &Client{
		limiter:    limiter,
		transports: make(map[string]*http.Transport),
	}
}

// transport returns a cached keep-alive transport for the proxy endpoint
// ("" = direct). Connection reuse matters at batch scale.
func (c *Client) transport(proxyEndpoint string) (*http.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transports[proxyEndpoint]; ok {
		return t, nil
	}

	t := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  false,
	}
	if proxyEndpoint != "" {
		proxyURL, err := url.Parse(proxyEndpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy endpoint %q: %w", proxyEndpoint, err)
		}
		t.Proxy = http.ProxyURL(proxyURL)
	}
	c.transports[proxyEndpoint] = t
	return t, nil
}

// nextUserAgent rotates through the configured pool.
func (c *Client) nextUserAgent() string {
	i := c.uaIndex.Add(1)
	return config.UserAgents[int(i)%len(config.UserAgents)]
}

// Do performs one fetch attempt. A non-2xx status is returned as a Response,
// not an error; only transport-level failures become *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, req.URL); err != nil {
			return nil, &Error{Kind: KindTimeout, URL: req.URL, Err: err}
		}
	}

	transport, err := c.transport(req.Proxy)
	if err != nil {
		return nil, &Error{Kind: KindOther, URL: req.URL, Err: err}
	}

	timeout := req.Bundle.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, URL: req.URL, Err: err}
	}

	ua := config.DefaultUserAgent
	if req.Bundle.RotateUA {
		ua = c.nextUserAgent()
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	if req.Bundle.CustomHeaders {
		httpReq.Header.Set("Sec-Fetch-Dest", "document")
		httpReq.Header.Set("Sec-Fetch-Mode", "navigate")
		httpReq.Header.Set("Sec-Fetch-Site", "none")
		httpReq.Header.Set("Upgrade-Insecure-Requests", "1")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}
	for k, v := range req.Bundle.Headers {
		httpReq.Header.Set(k, v)
	}

	client := &http.Client{Transport: transport, Timeout: timeout}

	start := time.Now()
	resp, err := client.Do(httpReq)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		kind := Classify(err)
		log.Debug().
			Str("url", req.URL).
			Str("kind", string(kind)).
			Str("proxy", req.Proxy).
			Err(err).
			Msg("Fetch failed")
		return nil, &Error{Kind: kind, URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	maxBody := req.MaxBody
	if maxBody <= 0 {
		maxBody = 10 << 20 // 10MB
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &Error{Kind: Classify(err), URL: req.URL, Err: err}
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	log.Debug().
		Str("url", req.URL).
		Int("status", resp.StatusCode).
		Float64("response_time_ms", elapsed).
		Int("bytes", len(body)).
		Msg("Fetch completed")

	return &Response{
		URL:            req.URL,
		StatusCode:     resp.StatusCode,
		Headers:        headers,
		Body:           string(body),
		ResponseTimeMs: elapsed,
		ProxyUsed:      req.Proxy,
	}, nil
}

// RetryAfter parses the Retry-After header as whole seconds; 0 when absent
// or not parseable.
func (r *Response) RetryAfter() time.Duration {
	v, ok := r.Headers["Retry-After"]
	if !ok {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
