package config

import "time"

// Default constants for application configuration
const (
	DefaultLogLevel  = "info"
	DefaultJSONLog   = false
	DefaultListenAddr = ":8000"

	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// Governor
	DefaultGlobalConcurrency    = 1000
	DefaultPerDomainConcurrency = 15
	DefaultSlowDomainConcurrency = 10
	DefaultAcquireTimeout       = 30 * time.Second
	DefaultSlowRestoreSuccesses = 5

	// Circuit breaker
	DefaultFailureThreshold = 12
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenTests    = 3

	// Proxy pool
	DefaultQuarantineFailures = 3
	DefaultQuarantineBase     = 30 * time.Second
	DefaultQuarantineCap      = 10 * time.Minute
	DefaultAllowDirect        = true

	// Analyzer
	DefaultProbeTimeout  = 7 * time.Second
	DefaultProbeAttempts = 2
	DefaultProbeCacheTTL = 15 * time.Minute

	// Scraper
	DefaultMaxLinks        = 50
	DefaultMaxSubpages     = 5
	DefaultMinContentChars = 100
	DefaultCompanyTimeoutMultiplier = 3

	// Rate limiter
	DefaultDomainRPS   = 5.0
	DefaultDomainBurst = 10

	// Chunker
	DefaultMaxChunkTokens       = 500000
	DefaultCharsPerToken        = 3.5
	DefaultSystemPromptOverhead = 1500
	DefaultMessageOverhead      = 200

	// Batch
	DefaultWorkerCount = 2000
	DefaultFlushSize   = 1000
	DefaultInstances   = 10
	MaxWorkerCount     = 20000
	MaxFlushSize       = 5000
	MaxInstances       = 50

	// Job queue
	DefaultJobQueueSize    = 256
	DefaultJobQueueWorkers = 8

	// LLM / discovery
	DefaultLLMMaxConcurrent = 300
	DefaultLLMTimeout       = 240 * time.Second

	// Shutdown
	DefaultGracePeriod = 30 * time.Second
)

// DefaultStatusFilter selects the discovery tiers worth scraping.
var DefaultStatusFilter = []string{"muito_alto", "alto", "medio"}
