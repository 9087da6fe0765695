package scraper

import (
	"context"
	"sync"
	"time"

	"github.com/b2bflash/crawler/internal/analyzer"
	"github.com/b2bflash/crawler/internal/breaker"
	"github.com/b2bflash/crawler/internal/cache"
	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/fetch"
	"github.com/b2bflash/crawler/internal/governor"
	"github.com/b2bflash/crawler/internal/protection"
	"github.com/b2bflash/crawler/internal/proxy"
	"github.com/b2bflash/crawler/internal/strategy"
	"github.com/b2bflash/crawler/pkg/models"
)

// FailureReporter receives classified failure categories for the learning
// loop. Implemented by the adaptive failure tracker.
type FailureReporter interface {
	ReportScrapeFailure(category string)
}

type nopReporter struct{}

func (nopReporter) ReportScrapeFailure(string) {}

// Options tune scraper behavior.
type Options struct {
	MaxLinks                 int
	MaxSubpages              int
	MinContentChars          int
	TextFormat               TextFormat
	AcquireTimeout           time.Duration
	SlowThresholdMs          float64
	SlowRestoreSuccesses     int
	CompanyTimeoutMultiplier int
	MaxBackoff               time.Duration // ceiling on protection/rate-limit waits
}

// Overrides carries the adaptive snapshot taken at company start; strategy
// selection stays deterministic for the whole attempt even if the snapshot
// changes mid-flight.
type Overrides struct {
	DefaultStrategy models.Strategy
	TimeoutScale    float64
}

// Scraper executes the full main-page + subpages pipeline for one company
// URL, driving the proxy pool, governor, breaker, analyzer, and strategy
// cascade.
type Scraper struct {
	analyzer *analyzer.Analyzer
	selector *strategy.Selector
	client   *fetch.Client
	fallback *fetch.FallbackClient
	pool     *proxy.Pool
	gov      *governor.Governor
	brk      *breaker.Breaker
	detector *protection.Detector
	profiles *cache.ProfileCache
	reporter FailureReporter
	opts     Options

	mu          sync.Mutex
	slowSuccess map[string]int
}

// New wires a Scraper from its collaborators. profiles and reporter may be nil.
func New(
	an *analyzer.Analyzer,
	sel *strategy.Selector,
	client *fetch.Client,
	fallback *fetch.FallbackClient,
	pool *proxy.Pool,
	gov *governor.Governor,
	brk *breaker.Breaker,
	detector *protection.Detector,
	profiles *cache.ProfileCache,
	reporter FailureReporter,
	opts Options,
) *Scraper {
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = config.DefaultMaxLinks
	}
	if opts.MaxSubpages <= 0 {
		opts.MaxSubpages = config.DefaultMaxSubpages
	}
	if opts.MinContentChars <= 0 {
		opts.MinContentChars = config.DefaultMinContentChars
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = config.DefaultAcquireTimeout
	}
	if opts.SlowThresholdMs <= 0 {
		opts.SlowThresholdMs = 5000
	}
	if opts.SlowRestoreSuccesses <= 0 {
		opts.SlowRestoreSuccesses = config.DefaultSlowRestoreSuccesses
	}
	if opts.CompanyTimeoutMultiplier <= 0 {
		opts.CompanyTimeoutMultiplier = config.DefaultCompanyTimeoutMultiplier
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 90 * time.Second
	}
	if opts.TextFormat == "" {
		opts.TextFormat = FormatText
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Scraper{
		analyzer:    an,
		selector:    sel,
		client:      client,
		fallback:    fallback,
		pool:        pool,
		gov:         gov,
		brk:         brk,
		detector:    detector,
		profiles:    profiles,
		reporter:    reporter,
		opts:        opts,
		slowSuccess: make(map[string]int),
	}
}

// Scrape runs the pipeline with no adaptive overrides.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) *models.ScrapeResult {
	return s.ScrapeWith(ctx, rawURL, Overrides{})
}

// ScrapeWith runs the pipeline for one company URL.
func (s *Scraper) ScrapeWith(ctx context.Context, rawURL string, ov Overrides) *models.ScrapeResult {
	start := time.Now()
	result := &models.ScrapeResult{SubpageErrors: make(map[string]int)}
	defer func() {
		result.TotalTimeMs = msSince(start)
	}()

	// Admission control before any network work.
	if s.brk.IsOpen(rawURL) {
		result.MainPageFailReason = string(fetch.KindCircuitOpen)
		s.reporter.ReportScrapeFailure(string(fetch.KindCircuitOpen))
		return result
	}

	// Per-company ceiling derived from the heaviest strategy timeout.
	ctx, cancel := context.WithTimeout(ctx, s.companyTimeout())
	defer cancel()

	// Probe once; repeat domains within the cache TTL skip it.
	probeStart := time.Now()
	profile := s.profileFor(ctx, rawURL)
	result.ProbeTimeMs = msSince(probeStart)
	result.ProbeOK = profile.ErrorMessage == "" && profile.StatusCode > 0 && profile.StatusCode < 400

	strategies := s.cascade(profile, ov)

	// Main page: strategy cascade, then the alternate engine.
	mainStart := time.Now()
	page, html, usedStrategy := s.fetchMainPage(ctx, rawURL, strategies, ov, result)
	result.MainScrapeTimeMs = msSince(mainStart)

	if page != nil {
		result.Pages = append(result.Pages, page)
	}
	if page == nil || !page.Success() {
		if result.MainPageFailReason == "" {
			result.MainPageFailReason = string(fetch.KindOther)
		}
		return result
	}

	result.MainPageOK = true
	result.MainPageFailReason = ""
	result.StrategyUsed = usedStrategy
	s.brk.RecordSuccess(rawURL)
	s.noteSuccess(rawURL)

	if page.ResponseTimeMs > s.opts.SlowThresholdMs {
		s.gov.MarkSlow(rawURL)
	}

	// Link funnel and subpages.
	funnel := ExtractLinks(rawURL, html, s.opts.MaxLinks, s.opts.MaxSubpages)
	result.LinksInHTML = funnel.InHTML
	result.LinksAfterFilter = funnel.AfterFilter
	result.LinksSelected = len(funnel.Selected)
	page.Links = funnel.Selected
	page.DocumentLinks = funnel.Documents

	if len(funnel.Selected) > 0 {
		subStart := time.Now()
		s.fetchSubpages(ctx, funnel.Selected, usedStrategy, result)
		result.SubpagesTimeMs = msSince(subStart)
	}

	return result
}

// profileFor consults the probe cache before paying for an analyzer probe.
func (s *Scraper) profileFor(ctx context.Context, rawURL string) *models.SiteProfile {
	domain := governor.Domain(rawURL)
	if s.profiles != nil {
		if p, ok := s.profiles.Get(domain); ok {
			return p
		}
	}
	p := s.analyzer.Analyze(ctx, rawURL)
	if s.profiles != nil && p.ErrorMessage == "" {
		s.profiles.Set(domain, p)
	}
	return p
}

// cascade applies the adaptive default strategy on top of the selector's
// ordering.
func (s *Scraper) cascade(profile *models.SiteProfile, ov Overrides) []models.Strategy {
	strategies := s.selector.Select(profile)
	if ov.DefaultStrategy == "" || profile.Protection != models.ProtectionNone {
		return strategies
	}
	// A learned default outranks the site-type ordering, not protection.
	out := []models.Strategy{ov.DefaultStrategy}
	for _, st := range strategies {
		if st != ov.DefaultStrategy {
			out = append(out, st)
		}
	}
	return out
}

func (s *Scraper) companyTimeout() time.Duration {
	heaviest := s.selector.Bundle(models.StrategyAggressive).Timeout
	if heaviest <= 0 {
		heaviest = 25 * time.Second
	}
	t := heaviest * time.Duration(s.opts.CompanyTimeoutMultiplier)
	if t < 30*time.Second {
		t = 30 * time.Second
	}
	if t > 2*time.Minute {
		t = 2 * time.Minute
	}
	return t
}

// noteSuccess restores a slow-marked domain after enough consecutive
// successes.
func (s *Scraper) noteSuccess(rawURL string) {
	if !s.gov.IsSlow(rawURL) {
		return
	}
	domain := governor.Domain(rawURL)
	s.mu.Lock()
	s.slowSuccess[domain]++
	restore := s.slowSuccess[domain] >= s.opts.SlowRestoreSuccesses
	if restore {
		s.slowSuccess[domain] = 0
	}
	s.mu.Unlock()
	if restore {
		s.gov.UnmarkSlow(rawURL)
	}
}

// noteFailure resets the slow-domain success streak.
func (s *Scraper) noteFailure(rawURL string) {
	domain := governor.Domain(rawURL)
	s.mu.Lock()
	delete(s.slowSuccess, domain)
	s.mu.Unlock()
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
