package config

import "fmt"

func validate(c *Config) error {
	if c.GlobalConcurrency <= 0 {
		return fmt.Errorf("global concurrency must be > 0")
	}
	if c.PerDomainConcurrency <= 0 || c.PerDomainConcurrency > c.GlobalConcurrency {
		return fmt.Errorf("per-domain concurrency must be between 1 and the global limit")
	}
	if c.SlowDomainConcurrency <= 0 || c.SlowDomainConcurrency > c.PerDomainConcurrency {
		return fmt.Errorf("slow-domain concurrency must be between 1 and the per-domain limit")
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be > 0")
	}
	if c.MaxChunkTokens <= 0 {
		return fmt.Errorf("chunk token budget must be > 0")
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("chars-per-token must be > 0")
	}
	if c.TextFormat != "text" && c.TextFormat != "markdown" {
		return fmt.Errorf("text format must be text or markdown, got %q", c.TextFormat)
	}
	if c.StoreKind != "postgres" && c.StoreKind != "memory" {
		return fmt.Errorf("store must be postgres or memory, got %q", c.StoreKind)
	}
	if c.StoreKind == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	return nil
}
