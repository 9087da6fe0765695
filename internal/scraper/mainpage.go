package scraper

import (
	"context"
	"math/rand"
	"time"

	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/fetch"
	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// attemptOutcome classifies one fetch attempt of the cascade.
type attemptOutcome int

const (
	outcomeOK attemptOutcome = iota
	outcomeRetrySameStrategy
	outcomeNextStrategy
	outcomeAbort
)

// attemptResult carries one attempt's classification through the cascade.
type attemptResult struct {
	page     *models.ScrapedPage
	html     string
	category string // fetch.Kind or protection label
	outcome  attemptOutcome
}

// fetchMainPage walks the strategy cascade for the main page; when every
// strategy is exhausted it makes one final attempt with the alternate engine.
// Returns the page (nil when nothing answered), the raw HTML for link
// extraction, and the strategy that carried the successful fetch.
func (s *Scraper) fetchMainPage(
	ctx context.Context,
	rawURL string,
	strategies []models.Strategy,
	ov Overrides,
	result *models.ScrapeResult,
) (*models.ScrapedPage, string, models.Strategy) {
	usedProxies := make(map[string]bool)
	lastCategory := ""
	var lastPage *models.ScrapedPage

cascade:
	for _, st := range strategies {
		bundle := s.selector.Bundle(st)
		if ov.TimeoutScale > 0 {
			bundle.Timeout = time.Duration(float64(bundle.Timeout) * ov.TimeoutScale)
		}

		attempts := bundle.RetryCount
		if attempts < 1 {
			attempts = 1
		}
		for attempt := 0; attempt < attempts; attempt++ {
			if ctx.Err() != nil {
				lastCategory = string(fetch.KindTimeout)
				break cascade
			}
			if attempt > 0 {
				result.TotalRetries++
				sleepJittered(ctx, bundle.Delay)
			}

			ar := s.attempt(ctx, rawURL, bundle, usedProxies)
			if ar.page != nil {
				lastPage = ar.page
			}
			if ar.category != "" {
				lastCategory = ar.category
			}

			switch ar.outcome {
			case outcomeOK:
				log.Debug().
					Str("url", rawURL).
					Str("strategy", string(st)).
					Int("attempt", attempt+1).
					Msg("Main page fetched")
				return ar.page, ar.html, st
			case outcomeNextStrategy:
				continue cascade
			case outcomeAbort:
				s.noteFailure(rawURL)
				result.MainPageFailReason = failReason(lastCategory)
				return lastPage, "", ""
			}
		}
	}

	// Alternate engine: bare client, minimal headers, no compression.
	if s.fallback != nil && ctx.Err() == nil {
		ar := s.fallbackAttempt(ctx, rawURL)
		if ar.outcome == outcomeOK {
			return ar.page, ar.html, models.StrategyRobust
		}
		if ar.page != nil {
			lastPage = ar.page
		}
		if ar.category != "" {
			lastCategory = ar.category
		}
	}

	s.noteFailure(rawURL)
	result.MainPageFailReason = failReason(lastCategory)
	return lastPage, "", ""
}

// attempt performs one fetch under one strategy bundle and classifies the
// outcome. Every attempt holds its own governor ticket.
func (s *Scraper) attempt(
	ctx context.Context,
	rawURL string,
	bundle config.StrategyBundle,
	usedProxies map[string]bool,
) attemptResult {
	ticket, err := s.gov.Acquire(ctx, rawURL, s.opts.AcquireTimeout)
	if err != nil {
		s.reporter.ReportScrapeFailure(string(fetch.KindConcurrency))
		return attemptResult{category: string(fetch.KindConcurrency), outcome: outcomeAbort}
	}
	defer ticket.Release()

	endpoint := ""
	if bundle.UseProxy {
		if bundle.RotateProxy {
			endpoint = s.pool.GetExcluding(usedProxies)
		} else {
			endpoint = s.pool.GetNext()
		}
	}

	resp, err := s.client.Do(ctx, fetch.Request{URL: rawURL, Bundle: bundle, Proxy: endpoint})
	if err != nil {
		kind := fetch.KindOf(err)
		s.pool.RecordFailure(endpoint, string(kind))
		if endpoint != "" && kind.ProxyRelated() {
			usedProxies[endpoint] = true
		}
		s.brk.RecordFailure(rawURL, !kind.CountsForBreaker())
		s.reporter.ReportScrapeFailure(string(kind))

		outcome := outcomeNextStrategy
		if kind.Retryable() {
			outcome = outcomeRetrySameStrategy
		}
		return attemptResult{category: string(kind), outcome: outcome}
	}
	s.pool.RecordSuccess(endpoint)

	return s.classifyResponse(ctx, rawURL, resp)
}

// classifyResponse turns an HTTP response into the cascade outcome:
// protection, HTTP error, thin content, or success.
func (s *Scraper) classifyResponse(ctx context.Context, rawURL string, resp *fetch.Response) attemptResult {
	if prot := s.detector.Detect(resp.StatusCode, resp.Headers, resp.Body); prot != models.ProtectionNone {
		// Site-side policy: reported, never counted against the breaker.
		s.brk.RecordFailure(rawURL, true)
		s.reporter.ReportScrapeFailure(string(prot))
		rec := s.detector.Recommend(prot)

		if prot == models.ProtectionRateLimit {
			delay := resp.RetryAfter()
			if delay <= 0 {
				delay = rec.Delay
			}
			if delay > s.opts.MaxBackoff {
				delay = s.opts.MaxBackoff
			}
			log.Debug().Str("url", rawURL).Dur("delay", delay).Msg("Rate limited, backing off")
			sleepCtx(ctx, delay)
			return attemptResult{category: string(prot), outcome: outcomeRetrySameStrategy}
		}

		if rec.CanRetry && rec.Delay > 0 {
			delay := rec.Delay
			if delay > s.opts.MaxBackoff {
				delay = s.opts.MaxBackoff
			}
			sleepCtx(ctx, delay)
		}
		return attemptResult{category: string(prot), outcome: outcomeNextStrategy}
	}

	switch {
	case resp.StatusCode >= 500:
		s.brk.RecordFailure(rawURL, false)
		s.reporter.ReportScrapeFailure(string(fetch.KindOther))
		return attemptResult{category: string(fetch.KindOther), outcome: outcomeRetrySameStrategy}
	case resp.StatusCode >= 400:
		// 429 is always classified as protection; a 403 reaches this branch
		// only when no protection signature matched it.
		s.reporter.ReportScrapeFailure(string(fetch.KindNotFound))
		page := &models.ScrapedPage{
			URL:            rawURL,
			StatusCode:     resp.StatusCode,
			ResponseTimeMs: resp.ResponseTimeMs,
			Error:          string(fetch.KindNotFound),
		}
		return attemptResult{page: page, category: string(fetch.KindNotFound), outcome: outcomeNextStrategy}
	}

	content := ExtractContent(resp.Body, s.opts.TextFormat)
	page := &models.ScrapedPage{
		URL:            rawURL,
		Content:        content,
		StatusCode:     resp.StatusCode,
		ResponseTimeMs: resp.ResponseTimeMs,
	}
	if len(content) < s.opts.MinContentChars {
		s.reporter.ReportScrapeFailure(string(fetch.KindEmptyContent))
		page.Error = string(fetch.KindEmptyContent)
		return attemptResult{page: page, category: string(fetch.KindEmptyContent), outcome: outcomeNextStrategy}
	}
	return attemptResult{page: page, html: resp.Body, outcome: outcomeOK}
}

// fallbackAttempt is the last-resort fetch with the alternate engine.
func (s *Scraper) fallbackAttempt(ctx context.Context, rawURL string) attemptResult {
	resp, err := s.fallback.Fetch(ctx, rawURL)
	if err != nil {
		kind := fetch.KindOf(err)
		s.brk.RecordFailure(rawURL, !kind.CountsForBreaker())
		s.reporter.ReportScrapeFailure(string(kind))
		return attemptResult{category: string(kind), outcome: outcomeNextStrategy}
	}
	ar := s.classifyResponse(ctx, rawURL, resp)
	if ar.outcome == outcomeRetrySameStrategy {
		// No further retries behind the fallback.
		ar.outcome = outcomeNextStrategy
	}
	return ar
}

// failReason maps the last failure category into the closed main-page
// vocabulary.
func failReason(category string) string {
	switch category {
	case "":
		return "no_response"
	case string(fetch.KindDNS), string(fetch.KindConnection), string(fetch.KindNoResponse):
		return "no_response"
	case string(fetch.KindTimeout), string(fetch.KindConcurrency):
		return "timeout"
	case string(fetch.KindSSL):
		return "ssl_error"
	case string(models.ProtectionCloudflare):
		return "cloudflare"
	case string(models.ProtectionWAF), string(models.ProtectionCaptcha),
		string(models.ProtectionBot), string(models.ProtectionRateLimit):
		return "blocked"
	case string(fetch.KindEmptyContent):
		return "empty_content"
	case string(fetch.KindNotFound):
		return "not_found"
	default:
		return "other"
	}
}

func sleepJittered(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	jittered := d + time.Duration(rand.Int63n(int64(d)/2+1))
	sleepCtx(ctx, jittered)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
