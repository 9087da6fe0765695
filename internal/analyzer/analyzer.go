package analyzer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/fetch"
	"github.com/b2bflash/crawler/internal/protection"
	"github.com/b2bflash/crawler/internal/proxy"
	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"
)

// spaSignatures hint at client-side rendering when found in raw HTML.
var spaSignatures = []string{
	"react", "__next", "__nuxt", "ng-app", "ng-controller",
	"data-v-", "vue-", "ember", "_app.js", "main.js", "bundle.js",
}

// minimalContentSignatures indicate an unrendered SPA shell.
var minimalContentSignatures = []string{
	`<div id="root"></div>`,
	`<div id="app"></div>`,
	`<div id="__next"></div>`,
	"loading...",
	"please wait",
	"javascript required",
}

// Options tune the analyzer probe.
type Options struct {
	Timeout       time.Duration
	ProbeAttempts int
	CheckRobots   bool
}

// Analyzer probes a site once and produces its SiteProfile. It is called at
// most once per company URL; repeated callers go through the profile cache.
type Analyzer struct {
	client   *fetch.Client
	pool     *proxy.Pool
	detector *protection.Detector
	opts     Options
}

// New creates an Analyzer.
func New(client *fetch.Client, pool *proxy.Pool, detector *protection.Detector, opts Options) *Analyzer {
	if opts.Timeout <= 0 {
		opts.Timeout = config.DefaultProbeTimeout
	}
	if opts.ProbeAttempts <= 0 {
		opts.ProbeAttempts = config.DefaultProbeAttempts
	}
	return &Analyzer{client: client, pool: pool, detector: detector, opts: opts}
}

// Analyze probes the URL and returns its profile. The profile is always
// non-nil; on probe failure BestStrategy falls back to ROBUST.
func (a *Analyzer) Analyze(ctx context.Context, rawURL string) *models.SiteProfile {
	profile := &models.SiteProfile{
		URL:        rawURL,
		SiteType:   models.SiteUnknown,
		Protection: models.ProtectionNone,
	}

	resp, err := a.probe(ctx, rawURL)
	if err != nil {
		profile.ErrorMessage = err.Error()
		profile.ResponseTimeMs = float64(a.opts.Timeout.Milliseconds())
		profile.BestStrategy = models.StrategyRobust
		log.Debug().Str("url", rawURL).Err(err).Msg("Probe failed")
		return profile
	}

	profile.StatusCode = resp.StatusCode
	profile.ResponseTimeMs = resp.ResponseTimeMs
	profile.ContentLength = len(resp.Body)
	profile.Headers = resp.Headers
	profile.RawHTML = resp.Body

	if resp.Body == "" || resp.StatusCode >= 400 {
		if resp.StatusCode >= 400 {
			profile.ErrorMessage = fmt.Sprintf("status %d", resp.StatusCode)
		} else {
			profile.ErrorMessage = "empty probe body"
		}
		profile.Protection = a.detector.Detect(resp.StatusCode, resp.Headers, resp.Body)
		profile.BestStrategy = models.StrategyAggressive
		return profile
	}

	profile.Protection = a.detector.Detect(resp.StatusCode, resp.Headers, resp.Body)
	profile.SiteType = detectSiteType(resp.Body)

	if a.opts.CheckRobots && !a.robotsAllows(ctx, rawURL) {
		profile.ErrorMessage = "robots.txt disallows crawling"
	}

	profile.BestStrategy = bestStrategy(profile)

	log.Info().
		Str("url", rawURL).
		Str("site_type", string(profile.SiteType)).
		Str("protection", string(profile.Protection)).
		Str("strategy", string(profile.BestStrategy)).
		Float64("rtt_ms", profile.ResponseTimeMs).
		Msg("Site analyzed")

	return profile
}

// probe fetches the URL once, reselecting a proxy on transport errors up to
// the configured attempt count.
func (a *Analyzer) probe(ctx context.Context, rawURL string) (*fetch.Response, error) {
	used := make(map[string]bool)
	bundle := config.StrategyBundle{Timeout: a.opts.Timeout, UseProxy: true}

	var lastErr error
	for attempt := 0; attempt < a.opts.ProbeAttempts; attempt++ {
		endpoint := a.pool.GetExcluding(used)
		if endpoint != "" {
			used[endpoint] = true
		}

		resp, err := a.client.Do(ctx, fetch.Request{URL: rawURL, Bundle: bundle, Proxy: endpoint})
		if err == nil {
			a.pool.RecordSuccess(endpoint)
			return resp, nil
		}
		a.pool.RecordFailure(endpoint, string(fetch.KindOf(err)))
		lastErr = err

		if !fetch.KindOf(err).ProxyRelated() {
			break
		}
		log.Debug().
			Str("url", rawURL).
			Int("attempt", attempt+1).
			Msg("Probe retry with different proxy")
	}
	return nil, lastErr
}

// detectSiteType classifies rendering behavior from the raw probe HTML.
func detectSiteType(html string) models.SiteType {
	if html == "" {
		return models.SiteUnknown
	}
	lower := strings.ToLower(html)

	isMinimal := false
	for _, sig := range minimalContentSignatures {
		if strings.Contains(lower, sig) {
			isMinimal = true
			break
		}
	}

	spaCount := 0
	for _, sig := range spaSignatures {
		if strings.Contains(lower, sig) {
			spaCount++
		}
	}

	textLen := len(StripText(html))

	switch {
	case isMinimal && textLen < 500:
		return models.SiteSPA
	case spaCount >= 3 && textLen < 2000:
		return models.SiteHybrid
	case spaCount >= 2:
		return models.SiteHybrid
	default:
		return models.SiteStatic
	}
}

// StripText extracts visible text from HTML, dropping scripts and styles.
func StripText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Text())
}

func bestStrategy(p *models.SiteProfile) models.Strategy {
	switch p.Protection {
	case models.ProtectionCloudflare:
		return models.StrategyAggressive
	case models.ProtectionWAF, models.ProtectionBot:
		return models.StrategyRobust
	case models.ProtectionRateLimit:
		return models.StrategyStandard
	}
	switch p.SiteType {
	case models.SiteSPA:
		return models.StrategyRobust
	case models.SiteHybrid:
		return models.StrategyStandard
	}
	if p.ResponseTimeMs < 1000 {
		return models.StrategyFast
	}
	if p.ResponseTimeMs > 3000 {
		return models.StrategyRobust
	}
	return models.StrategyStandard
}

// robotsAllows fetches and evaluates /robots.txt; unreachable or missing
// robots files allow crawling.
func (a *Analyzer) robotsAllows(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	resp, err := a.client.Do(ctx, fetch.Request{
		URL:    robotsURL,
		Bundle: config.StrategyBundle{Timeout: 5 * time.Second},
	})
	if err != nil || resp.StatusCode != 200 {
		return true
	}

	robots, err := robotstxt.FromString(resp.Body)
	if err != nil {
		return true
	}
	return robots.TestAgent(u.Path, "*")
}
