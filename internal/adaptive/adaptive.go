package adaptive

import (
	"sync"
	"time"

	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// Adaptation thresholds, expressed as shares of recent scraper failures.
const (
	cloudflareThresholdPct = 30
	aggressiveThresholdPct = 50
	timeoutThresholdPct    = 20
	rateLimitThresholdPct  = 25

	analysisWindow = 6 * time.Hour
	minSample      = 5
)

// Snapshot is the immutable view workers take at the start of each company.
// Running requests keep their originally-selected configuration.
type Snapshot struct {
	DefaultStrategy  models.Strategy
	ScraperTimeout   time.Duration
	LLMMaxConcurrent int
	CloudflareRate   float64
	TimeoutRate      float64
}

// Manager observes the failure tracker and adjusts defaults between batches.
// All state transitions happen under one lock; readers get value copies.
type Manager struct {
	tracker *Tracker

	mu                  sync.Mutex
	defaultStrategy     models.Strategy
	scraperTimeout      time.Duration
	llmMaxConcurrent    int
	llmFloor            int
	timeoutCap          time.Duration
	cloudflareRate      float64
	timeoutRate         float64
	sitesProcessed      int64
	optimizationsApplied int
	lastOptimization    time.Time
}

// NewManager creates a Manager with the given starting defaults.
func NewManager(tracker *Tracker, scraperTimeout time.Duration, llmMaxConcurrent int) *Manager {
	if scraperTimeout <= 0 {
		scraperTimeout = 15 * time.Second
	}
	if llmMaxConcurrent <= 0 {
		llmMaxConcurrent = 300
	}
	return &Manager{
		tracker:          tracker,
		defaultStrategy:  models.StrategyStandard,
		scraperTimeout:   scraperTimeout,
		llmMaxConcurrent: llmMaxConcurrent,
		llmFloor:         20,
		timeoutCap:       60 * time.Second,
	}
}

// Snapshot returns the current adapted defaults.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		DefaultStrategy:  m.defaultStrategy,
		ScraperTimeout:   m.scraperTimeout,
		LLMMaxConcurrent: m.llmMaxConcurrent,
		CloudflareRate:   m.cloudflareRate,
		TimeoutRate:      m.timeoutRate,
	}
}

// OptimizeAfterBatch analyzes the recent failure window and adjusts the
// defaults. Called once per completed batch.
func (m *Manager) OptimizeAfterBatch(batchSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sitesProcessed += int64(batchSize)
	changed := false

	scraper := m.tracker.Patterns(ModuleScraper, analysisWindow)
	total := 0
	for _, n := range scraper {
		total += n
	}
	if total >= minSample {
		protCount := scraper[string(models.ProtectionCloudflare)] +
			scraper[string(models.ProtectionWAF)] +
			scraper[string(models.ProtectionCaptcha)]
		m.cloudflareRate = float64(protCount) / float64(total) * 100
		m.timeoutRate = float64(scraper["timeout"]) / float64(total) * 100

		switch {
		case m.cloudflareRate > aggressiveThresholdPct:
			if m.defaultStrategy != models.StrategyAggressive {
				m.defaultStrategy = models.StrategyAggressive
				changed = true
				log.Info().Float64("protection_rate", m.cloudflareRate).Msg("Default strategy promoted to aggressive")
			}
		case m.cloudflareRate > cloudflareThresholdPct:
			if m.defaultStrategy != models.StrategyRobust && m.defaultStrategy != models.StrategyAggressive {
				m.defaultStrategy = models.StrategyRobust
				changed = true
				log.Info().Float64("protection_rate", m.cloudflareRate).Msg("Default strategy promoted to robust")
			}
		}

		if m.timeoutRate > timeoutThresholdPct {
			next := time.Duration(float64(m.scraperTimeout) * 1.5)
			if next > m.timeoutCap {
				next = m.timeoutCap
			}
			if next != m.scraperTimeout {
				m.scraperTimeout = next
				changed = true
				log.Info().Dur("timeout", next).Float64("timeout_rate", m.timeoutRate).Msg("Scraper timeout raised")
			}
		}
	}

	llm := m.tracker.Patterns(ModuleLLM, analysisWindow)
	llmTotal := 0
	for _, n := range llm {
		llmTotal += n
	}
	if llmTotal >= minSample {
		rlRate := float64(llm["llm_rate_limit"]) / float64(llmTotal) * 100
		if rlRate > rateLimitThresholdPct {
			next := int(float64(m.llmMaxConcurrent) * 0.8)
			if next < m.llmFloor {
				next = m.llmFloor
			}
			if next != m.llmMaxConcurrent {
				m.llmMaxConcurrent = next
				changed = true
				log.Info().Int("llm_concurrent", next).Float64("rate_limit_rate", rlRate).Msg("LLM concurrency reduced")
			}
		}
	}

	if changed {
		m.optimizationsApplied++
		m.lastOptimization = time.Now()
	}
}

// Status reports the learning state for the metrics endpoint.
type Status struct {
	DefaultStrategy      models.Strategy `json:"default_strategy"`
	ScraperTimeoutS      float64         `json:"scraper_timeout_s"`
	LLMMaxConcurrent     int             `json:"llm_max_concurrent"`
	CloudflareRatePct    float64         `json:"cloudflare_rate_pct"`
	TimeoutRatePct       float64         `json:"timeout_rate_pct"`
	SitesProcessed       int64           `json:"sites_processed"`
	OptimizationsApplied int             `json:"optimizations_applied"`
}

// Status returns the current learning counters.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		DefaultStrategy:      m.defaultStrategy,
		ScraperTimeoutS:      m.scraperTimeout.Seconds(),
		LLMMaxConcurrent:     m.llmMaxConcurrent,
		CloudflareRatePct:    m.cloudflareRate,
		TimeoutRatePct:       m.timeoutRate,
		SitesProcessed:       m.sitesProcessed,
		OptimizationsApplied: m.optimizationsApplied,
	}
}
