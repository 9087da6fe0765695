package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config holds application configuration values
type Config struct {
	// Logging
	LogLevel string
	JSONLog  bool

	// HTTP server
	ListenAddr  string
	GracePeriod time.Duration

	// Proxy pool
	ProxyEndpoints     []string
	ProxyWeighted      bool
	QuarantineFailures int
	QuarantineBase     time.Duration
	QuarantineCap      time.Duration
	AllowDirect        bool

	// Governor
	GlobalConcurrency    int
	PerDomainConcurrency int
	SlowDomainConcurrency int
	AcquireTimeout       time.Duration
	SlowRestoreSuccesses int

	// Circuit breaker
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenTests    int

	// Analyzer
	ProbeTimeout  time.Duration
	ProbeAttempts int
	ProbeCacheTTL time.Duration
	CheckRobots   bool

	// Scraper
	MaxLinks        int
	MaxSubpages     int
	MinContentChars int
	DomainRPS       float64
	DomainBurst     int
	TextFormat      string // "text" or "markdown"

	// Chunker
	MaxChunkTokens       int
	CharsPerToken        float64
	SystemPromptOverhead int
	MessageOverhead      int

	// Store
	StoreKind   string // "postgres" or "memory"
	DatabaseURL string
	Schema      string

	// Job queue
	JobQueueSize    int
	JobQueueWorkers int

	// LLM / discovery
	SerperAPIKey    string
	LLMMaxConcurrent int
	LLMTimeout      time.Duration

	// Tunable signature / strategy files (empty = compiled-in defaults)
	SignaturesPath string
	StrategiesPath string
}

// Load builds a Config by combining defaults, environment variables, and CLI flags.
// Caller should pass the command so flags can be read; nil is accepted.
func Load(cmd *cobra.Command) (*Config, error) {
	cfg := &Config{
		LogLevel:              DefaultLogLevel,
		JSONLog:               DefaultJSONLog,
		ListenAddr:            DefaultListenAddr,
		GracePeriod:           DefaultGracePeriod,
		ProxyWeighted:         false,
		QuarantineFailures:    DefaultQuarantineFailures,
		QuarantineBase:        DefaultQuarantineBase,
		QuarantineCap:         DefaultQuarantineCap,
		AllowDirect:           DefaultAllowDirect,
		GlobalConcurrency:     DefaultGlobalConcurrency,
		PerDomainConcurrency:  DefaultPerDomainConcurrency,
		SlowDomainConcurrency: DefaultSlowDomainConcurrency,
		AcquireTimeout:        DefaultAcquireTimeout,
		SlowRestoreSuccesses:  DefaultSlowRestoreSuccesses,
		FailureThreshold:      DefaultFailureThreshold,
		RecoveryTimeout:       DefaultRecoveryTimeout,
		HalfOpenTests:         DefaultHalfOpenTests,
		ProbeTimeout:          DefaultProbeTimeout,
		ProbeAttempts:         DefaultProbeAttempts,
		ProbeCacheTTL:         DefaultProbeCacheTTL,
		MaxLinks:              DefaultMaxLinks,
		MaxSubpages:           DefaultMaxSubpages,
		MinContentChars:       DefaultMinContentChars,
		DomainRPS:             DefaultDomainRPS,
		DomainBurst:           DefaultDomainBurst,
		TextFormat:            "text",
		MaxChunkTokens:        DefaultMaxChunkTokens,
		CharsPerToken:         DefaultCharsPerToken,
		SystemPromptOverhead:  DefaultSystemPromptOverhead,
		MessageOverhead:       DefaultMessageOverhead,
		StoreKind:             "postgres",
		Schema:                "public",
		JobQueueSize:          DefaultJobQueueSize,
		JobQueueWorkers:       DefaultJobQueueWorkers,
		LLMMaxConcurrent:      DefaultLLMMaxConcurrent,
		LLMTimeout:            DefaultLLMTimeout,
	}

	// Environment overrides
	if v := os.Getenv("CRAWLER_PROXIES"); v != "" {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.ProxyEndpoints = append(cfg.ProxyEndpoints, p)
			}
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CRAWLER_SCHEMA"); v != "" {
		cfg.Schema = v
	}
	if v := os.Getenv("SERPER_API_KEY"); v != "" {
		cfg.SerperAPIKey = v
	}
	if v := os.Getenv("CRAWLER_SIGNATURES"); v != "" {
		cfg.SignaturesPath = v
	}
	if v := os.Getenv("CRAWLER_STRATEGIES"); v != "" {
		cfg.StrategiesPath = v
	}
	if v := os.Getenv("CRAWLER_GLOBAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GlobalConcurrency = n
		}
	}
	if v := os.Getenv("CRAWLER_DOMAIN_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PerDomainConcurrency = n
		}
	}
	if v := os.Getenv("CRAWLER_LLM_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLMMaxConcurrent = n
		}
	}

	// Read CLI flags if provided
	if cmd != nil {
		if f := cmd.Flags().Lookup("listen"); f != nil {
			if s := f.Value.String(); s != "" {
				cfg.ListenAddr = s
			}
		}
		if f := cmd.Flags().Lookup("store"); f != nil {
			if s := f.Value.String(); s != "" {
				cfg.StoreKind = s
			}
		}
		if f := cmd.Flags().Lookup("json"); f != nil {
			if f.Value.String() == "true" {
				cfg.JSONLog = true
			}
		}
		if f := cmd.Flags().Lookup("verbose"); f != nil {
			if f.Value.String() == "true" {
				cfg.LogLevel = "debug"
			}
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
