package models

import "time"

// SiteType classifies how a site renders its content.
type SiteType string

const (
	SiteStatic  SiteType = "static"
	SiteSPA     SiteType = "spa"
	SiteHybrid  SiteType = "hybrid"
	SiteUnknown SiteType = "unknown"
)

// Protection identifies the anti-automation mechanism detected on a response.
type Protection string

const (
	ProtectionNone       Protection = "none"
	ProtectionCloudflare Protection = "cloudflare"
	ProtectionWAF        Protection = "waf"
	ProtectionCaptcha    Protection = "captcha"
	ProtectionRateLimit  Protection = "rate_limit"
	ProtectionBot        Protection = "bot_detection"
)

// Blocking reports whether the protection prevents further HTTP scraping for
// this attempt, as opposed to merely slowing it down.
func (p Protection) Blocking() bool {
	switch p {
	case ProtectionCloudflare, ProtectionCaptcha, ProtectionBot:
		return true
	}
	return false
}

// Strategy names a fetch configuration bundle.
type Strategy string

const (
	StrategyFast       Strategy = "fast"
	StrategyStandard   Strategy = "standard"
	StrategyRobust     Strategy = "robust"
	StrategyAggressive Strategy = "aggressive"
)

// AllStrategies in escalation order, cheapest first.
var AllStrategies = []Strategy{StrategyFast, StrategyStandard, StrategyRobust, StrategyAggressive}

// SiteProfile is the result of the single analyzer probe for a company URL.
// It is built once per company and never mutated afterwards.
type SiteProfile struct {
	URL            string            `json:"url"`
	StatusCode     int               `json:"status_code"`
	ResponseTimeMs float64           `json:"response_time_ms"`
	ContentLength  int               `json:"content_length"`
	Headers        map[string]string `json:"headers,omitempty"`
	SiteType       SiteType          `json:"site_type"`
	Protection     Protection        `json:"protection"`
	BestStrategy   Strategy          `json:"best_strategy"`
	RawHTML        string            `json:"-"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

// ScrapedPage is the outcome of fetching one page.
type ScrapedPage struct {
	URL            string   `json:"url"`
	Content        string   `json:"content"`
	Links          []string `json:"links,omitempty"`
	DocumentLinks  []string `json:"document_links,omitempty"`
	StatusCode     int      `json:"status_code"`
	ResponseTimeMs float64  `json:"response_time_ms"`
	Error          string   `json:"error,omitempty"`
}

// Success reports whether the page yielded usable content.
func (p *ScrapedPage) Success() bool {
	return p.Error == "" && len(p.Content) >= 100
}

// ScrapeResult aggregates the main page and subpage fetches for one company,
// with the link funnel counts and stage timings.
type ScrapeResult struct {
	Pages              []*ScrapedPage `json:"pages"`
	LinksInHTML        int            `json:"links_in_html"`
	LinksAfterFilter   int            `json:"links_after_filter"`
	LinksSelected      int            `json:"links_selected"`
	SubpagesAttempted  int            `json:"subpages_attempted"`
	SubpagesOK         int            `json:"subpages_ok"`
	SubpageErrors      map[string]int `json:"subpage_errors,omitempty"`
	MainPageOK         bool           `json:"main_page_ok"`
	MainPageFailReason string         `json:"main_page_fail_reason,omitempty"`
	StrategyUsed       Strategy       `json:"strategy_used,omitempty"`
	TotalRetries       int            `json:"total_retries"`

	ProbeTimeMs      float64 `json:"probe_time_ms"`
	ProbeOK          bool    `json:"probe_ok"`
	MainScrapeTimeMs float64 `json:"main_scrape_time_ms"`
	SubpagesTimeMs   float64 `json:"subpages_time_ms"`
	TotalTimeMs      float64 `json:"total_time_ms"`
}

// SuccessfulPages returns the pages that produced usable content, main page first.
func (r *ScrapeResult) SuccessfulPages() []*ScrapedPage {
	out := make([]*ScrapedPage, 0, len(r.Pages))
	for _, p := range r.Pages {
		if p.Success() {
			out = append(out, p)
		}
	}
	return out
}

// Chunk is a token-bounded contiguous slice of the preprocessed page text for
// one company. Index and TotalChunks are assigned only after the whole
// sequence is produced.
type Chunk struct {
	Index         int      `json:"index"`
	TotalChunks   int      `json:"total_chunks"`
	Content       string   `json:"content"`
	TokenCount    int      `json:"token_count"`
	PagesIncluded []string `json:"pages_included"`
}

// Company is one pending row from the discovery table.
type Company struct {
	ID         int64  `json:"id"`
	CNPJ       string `json:"cnpj"`
	WebsiteURL string `json:"website_url"`
	Status     string `json:"status"`
}

// ChunkRecord is the flat row shape written by the bulk insert.
type ChunkRecord struct {
	CNPJ        string
	DiscoveryID int64
	WebsiteURL  string
	ChunkIndex  int
	TotalChunks int
	Content     string
	TokenCount  int
	PageSource  string
	Error       string
}

// ScrapeOutcome summarizes one company's scrape for the outcome table.
type ScrapeOutcome struct {
	CNPJ        string    `json:"cnpj"`
	Success     bool      `json:"success"`
	Pages       int       `json:"pages"`
	Chunks      int       `json:"chunks"`
	FailReason  string    `json:"fail_reason,omitempty"`
	DurationMs  float64   `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// Batch status values.
const (
	BatchPending   = "pending"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchCancelled = "cancelled"
	BatchError     = "error"
)
