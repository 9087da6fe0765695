package scraper

import (
	"context"
	"sync"

	"github.com/b2bflash/crawler/internal/fetch"
	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// fetchSubpages fetches the selected links concurrently. Each fetch holds its
// own governor ticket, so the per-domain cap naturally bounds the fan-out.
// Subpages reuse the strategy that carried the main page, with one automatic
// downgrade on failure.
func (s *Scraper) fetchSubpages(
	ctx context.Context,
	links []string,
	mainStrategy models.Strategy,
	result *models.ScrapeResult,
) {
	cascade := s.selector.SelectForSubpage(mainStrategy)
	if len(cascade) > 2 {
		cascade = cascade[:2]
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	result.SubpagesAttempted = len(links)

	for _, link := range links {
		wg.Add(1)
		go func(link string) {
			defer wg.Done()

			page, category := s.fetchSubpage(ctx, link, cascade)

			mu.Lock()
			defer mu.Unlock()
			if page != nil {
				result.Pages = append(result.Pages, page)
			}
			if page != nil && page.Success() {
				result.SubpagesOK++
			} else if category != "" {
				result.SubpageErrors[category]++
			}
		}(link)
	}
	wg.Wait()

	log.Debug().
		Int("attempted", result.SubpagesAttempted).
		Int("ok", result.SubpagesOK).
		Msg("Subpages fetched")
}

// fetchSubpage runs the two-step cascade for one subpage.
func (s *Scraper) fetchSubpage(ctx context.Context, link string, cascade []models.Strategy) (*models.ScrapedPage, string) {
	var lastPage *models.ScrapedPage
	lastCategory := ""
	usedProxies := make(map[string]bool)

	for _, st := range cascade {
		if ctx.Err() != nil {
			return lastPage, string(fetch.KindTimeout)
		}
		ar := s.attempt(ctx, link, s.selector.Bundle(st), usedProxies)
		if ar.page != nil {
			lastPage = ar.page
		}
		if ar.category != "" {
			lastCategory = ar.category
		}
		switch ar.outcome {
		case outcomeOK:
			return ar.page, ""
		case outcomeAbort:
			return lastPage, lastCategory
		}
	}
	return lastPage, lastCategory
}
