package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/rs/zerolog/log"
)

// FallbackClient is the alternate engine used after every strategy is
// exhausted: a plain transport with a minimal user agent, no compression,
// and transport-level retries. Some origins that reject browser-shaped
// requests answer a bare client.
type FallbackClient struct {
	client *http.Client
}

// NewFallbackClient builds the alternate engine.
func NewFallbackClient(timeout time.Duration) *FallbackClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	base := &http.Transport{
		DisableCompression: true,
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
	}
	transport := rehttp.NewTransport(
		base,
		rehttp.RetryAll(
			rehttp.RetryMaxRetries(2),
			rehttp.RetryAny(
				rehttp.RetryTemporaryErr(),
				rehttp.RetryStatuses(502, 503, 504),
			),
		),
		rehttp.ExpJitterDelay(500*time.Millisecond, 3*time.Second),
	)
	return &FallbackClient{
		client: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// Fetch performs the final attempt for a URL.
func (f *FallbackClient) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindOther, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", "curl/8.5.0")
	req.Header.Set("Accept", "*/*")

	start := time.Now()
	resp, err := f.client.Do(req)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return nil, &Error{Kind: Classify(err), URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &Error{Kind: Classify(err), URL: rawURL, Err: err}
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	log.Debug().
		Str("url", rawURL).
		Int("status", resp.StatusCode).
		Float64("response_time_ms", elapsed).
		Msg("Fallback fetch completed")

	return &Response{
		URL:            rawURL,
		StatusCode:     resp.StatusCode,
		Headers:        headers,
		Body:           string(body),
		ResponseTimeMs: elapsed,
	}, nil
}
