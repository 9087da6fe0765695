package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Service runs the search-then-pick pipeline for one company. Picker calls
// go through the LLM gate, so at most the gate's fixed slot count run at once.
type Service struct {
	search  SearchProvider
	picker  SitePicker
	gate    *LLMGate
	timeout time.Duration
}

// NewService wires the discovery pipeline. gate may be nil to run ungated.
func NewService(search SearchProvider, picker SitePicker, gate *LLMGate, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{search: search, picker: picker, gate: gate, timeout: timeout}
}

// FindSite returns the official site URL for a company, or "" when the
// search yields nothing usable.
func (s *Service) FindSite(ctx context.Context, cnpj, companyName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := BuildQuery(companyName, cnpj)
	candidates, err := s.search.Search(ctx, query, 10)
	if err != nil {
		return "", fmt.Errorf("searching for %s: %w", cnpj, err)
	}
	if len(candidates) == 0 {
		log.Debug().Str("cnpj", cnpj).Str("query", query).Msg("No site candidates")
		return "", nil
	}

	if s.gate != nil {
		release, err := s.gate.Acquire(ctx)
		if err != nil {
			return "", fmt.Errorf("waiting for picker slot: %w", err)
		}
		defer release()
	}

	url, err := s.picker.Pick(ctx, cnpj, companyName, candidates)
	if err != nil {
		return "", fmt.Errorf("picking site for %s: %w", cnpj, err)
	}
	log.Info().Str("cnpj", cnpj).Str("url", url).Int("candidates", len(candidates)).Msg("Site discovered")
	return url, nil
}
