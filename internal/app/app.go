// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/b2bflash/crawler/internal/adaptive"
	"github.com/b2bflash/crawler/internal/analyzer"
	"github.com/b2bflash/crawler/internal/batch"
	"github.com/b2bflash/crawler/internal/breaker"
	"github.com/b2bflash/crawler/internal/cache"
	"github.com/b2bflash/crawler/internal/chunker"
	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/internal/discovery"
	"github.com/b2bflash/crawler/internal/fetch"
	"github.com/b2bflash/crawler/internal/governor"
	"github.com/b2bflash/crawler/internal/jobs"
	"github.com/b2bflash/crawler/internal/protection"
	"github.com/b2bflash/crawler/internal/proxy"
	"github.com/b2bflash/crawler/internal/ratelimit"
	"github.com/b2bflash/crawler/internal/scraper"
	"github.com/b2bflash/crawler/internal/store"
	"github.com/b2bflash/crawler/internal/strategy"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Application holds all engine dependencies and manages their lifecycle.
// It is created once at startup and shared across the CLI commands and the
// HTTP server.
type Application struct {
	Config   *config.Config
	Store    store.Store
	Proxies  *proxy.Pool
	Governor *governor.Governor
	Breaker  *breaker.Breaker
	Detector *protection.Detector
	Analyzer *analyzer.Analyzer
	Selector *strategy.Selector
	Scraper  *scraper.Scraper
	Chunker  *chunker.Chunker
	Tracker  *adaptive.Tracker
	Adaptive *adaptive.Manager
	Jobs     *jobs.Queue
	Profiles *cache.ProfileCache
	Limiter  *ratelimit.DomainLimiter

	// Discovery is nil when no search provider is configured; the accept
	// endpoint then requires an explicit website_url.
	Discovery *discovery.Service

	mu    sync.Mutex
	batch *batch.Processor
}

// New wires the full engine from configuration.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	setupLogging(cfg)

	signatures, err := config.LoadSignatures(cfg.SignaturesPath)
	if err != nil {
		return nil, fmt.Errorf("loading protection signatures: %w", err)
	}
	bundles, err := config.LoadStrategyBundles(cfg.StrategiesPath)
	if err != nil {
		return nil, fmt.Errorf("loading strategy bundles: %w", err)
	}

	var st store.Store
	switch cfg.StoreKind {
	case "memory":
		st = store.NewMemory()
	default:
		st, err = store.NewPostgres(ctx, cfg.DatabaseURL, cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("connecting store: %w", err)
		}
	}

	pool := proxy.NewPool(cfg.ProxyEndpoints, proxy.Options{
		Weighted:           cfg.ProxyWeighted,
		QuarantineFailures: cfg.QuarantineFailures,
		QuarantineBase:     cfg.QuarantineBase,
		QuarantineCap:      cfg.QuarantineCap,
	})
	gov := governor.New(governor.Options{
		GlobalLimit:     cfg.GlobalConcurrency,
		PerDomainLimit:  cfg.PerDomainConcurrency,
		SlowDomainLimit: cfg.SlowDomainConcurrency,
	})
	brk := breaker.New(breaker.Options{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		HalfOpenTests:    cfg.HalfOpenTests,
	})
	detector := protection.NewDetector(signatures)
	limiter := ratelimit.NewDomainLimiter(cfg.DomainRPS, cfg.DomainBurst)
	client := fetch.NewClient(limiter)
	fallback := fetch.NewFallbackClient(20 * time.Second)
	an := analyzer.New(client, pool, detector, analyzer.Options{
		Timeout:       cfg.ProbeTimeout,
		ProbeAttempts: cfg.ProbeAttempts,
		CheckRobots:   cfg.CheckRobots,
	})
	sel := strategy.NewSelector(bundles)
	profiles := cache.NewProfileCache(10000, cfg.ProbeCacheTTL)
	tracker := adaptive.NewTracker(24 * time.Hour)
	manager := adaptive.NewManager(tracker, 15*time.Second, cfg.LLMMaxConcurrent)

	scr := scraper.New(an, sel, client, fallback, pool, gov, brk, detector, profiles, tracker,
		scraper.Options{
			MaxLinks:             cfg.MaxLinks,
			MaxSubpages:          cfg.MaxSubpages,
			MinContentChars:      cfg.MinContentChars,
			TextFormat:           scraper.TextFormat(cfg.TextFormat),
			AcquireTimeout:       cfg.AcquireTimeout,
			SlowRestoreSuccesses: cfg.SlowRestoreSuccesses,
		})

	chk := chunker.New(chunker.Options{
		MaxChunkTokens:       cfg.MaxChunkTokens,
		CharsPerToken:        cfg.CharsPerToken,
		SystemPromptOverhead: cfg.SystemPromptOverhead,
		MessageOverhead:      cfg.MessageOverhead,
	})

	queue := jobs.New(ctx, cfg.JobQueueSize, cfg.JobQueueWorkers)

	var disco *discovery.Service
	if cfg.SerperAPIKey != "" {
		disco = discovery.NewService(
			discovery.NewSerperClient(cfg.SerperAPIKey, 10*time.Second),
			discovery.NewHeuristicPicker(),
			discovery.NewLLMGate(cfg.LLMMaxConcurrent, 0),
			cfg.LLMTimeout,
		)
	}

	log.Info().
		Int("proxies", pool.Size()).
		Int("global_concurrency", cfg.GlobalConcurrency).
		Int("per_domain_concurrency", cfg.PerDomainConcurrency).
		Str("store", cfg.StoreKind).
		Bool("discovery", disco != nil).
		Msg("Engine initialized")

	return &Application{
		Config:    cfg,
		Store:     st,
		Proxies:   pool,
		Governor:  gov,
		Breaker:   brk,
		Detector:  detector,
		Analyzer:  an,
		Selector:  sel,
		Scraper:   scr,
		Chunker:   chk,
		Tracker:   tracker,
		Adaptive:  manager,
		Jobs:      queue,
		Profiles:  profiles,
		Limiter:   limiter,
		Discovery: disco,
	}, nil
}

// StartBatch creates, initializes, and launches a batch. Only one batch may
// run per process; a second start fails while the current one is running.
func (a *Application) StartBatch(ctx context.Context, opts batch.Options) (*batch.Processor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.batch != nil && a.batch.Status() == "running" {
		return nil, fmt.Errorf("batch %s is already running", a.batch.ID())
	}

	opts.Infrastructure = a.InfrastructureStatus
	p := batch.NewProcessor(a.Store, a.Scraper, a.Chunker, a.Adaptive, opts)
	if err := p.Initialize(ctx); err != nil {
		return nil, err
	}
	p.Start(ctx)
	a.batch = p
	return p, nil
}

// ActiveBatch returns the most recent batch, or nil.
func (a *Application) ActiveBatch() *batch.Processor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batch
}

// InfrastructureStatus collects the shared-resource status blocks for the
// batch status payload.
func (a *Application) InfrastructureStatus() map[string]any {
	return map[string]any{
		"proxy_pool":      a.Proxies.Status(),
		"concurrency":     a.Governor.Status(),
		"rate_limiter":    map[string]any{"tracked_domains": a.Limiter.Tracked()},
		"circuit_breaker": a.Breaker.Status(),
		"adaptive":        a.Adaptive.Status(),
	}
}

// Shutdown drains in-flight work within the grace period: the running batch
// is cancelled (which flushes its buffer) and the job queue empties.
func (a *Application) Shutdown(ctx context.Context) {
	grace := a.Config.GracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if b := a.ActiveBatch(); b != nil && b.Status() == "running" {
		b.Cancel()
		done := make(chan struct{})
		go func() { b.Wait(); close(done) }()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn().Msg("Grace period expired before the batch drained")
		}
	}

	if err := a.Jobs.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Job queue did not drain in time")
	}

	a.Profiles.Close()
	a.Store.Close()
	log.Info().Msg("Shutdown complete")
}

func setupLogging(cfg *config.Config) {
	level := zerolog.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.JSONLog {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
