package strategy

import (
	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// protection-specific orderings, tried before site-type orderings
var protectionOrder = map[models.Protection][]models.Strategy{
	models.ProtectionNone:       {models.StrategyFast, models.StrategyStandard, models.StrategyRobust},
	models.ProtectionCloudflare: {models.StrategyAggressive, models.StrategyRobust, models.StrategyStandard},
	models.ProtectionWAF:        {models.StrategyRobust, models.StrategyAggressive, models.StrategyStandard},
	models.ProtectionCaptcha:    {models.StrategyAggressive, models.StrategyRobust},
	models.ProtectionRateLimit:  {models.StrategyStandard, models.StrategyRobust},
	models.ProtectionBot:        {models.StrategyAggressive, models.StrategyRobust, models.StrategyStandard},
}

var siteTypeOrder = map[models.SiteType][]models.Strategy{
	models.SiteStatic:  {models.StrategyFast, models.StrategyStandard, models.StrategyRobust},
	models.SiteSPA:     {models.StrategyRobust, models.StrategyAggressive, models.StrategyStandard},
	models.SiteHybrid:  {models.StrategyStandard, models.StrategyRobust, models.StrategyAggressive},
	models.SiteUnknown: {models.StrategyStandard, models.StrategyFast, models.StrategyRobust, models.StrategyAggressive},
}

// downgrade order for subpages after the main page succeeded with a strategy
var subpageFallback = map[models.Strategy][]models.Strategy{
	models.StrategyFast:       {models.StrategyStandard, models.StrategyRobust},
	models.StrategyStandard:   {models.StrategyFast, models.StrategyRobust},
	models.StrategyRobust:     {models.StrategyStandard, models.StrategyAggressive},
	models.StrategyAggressive: {models.StrategyRobust, models.StrategyStandard},
}

// Selector produces priority-ordered strategy lists from a site profile and
// resolves each name to its configuration bundle.
type Selector struct {
	bundles map[models.Strategy]config.StrategyBundle
}

// NewSelector creates a Selector over the given bundles; nil takes defaults.
func NewSelector(bundles map[models.Strategy]config.StrategyBundle) *Selector {
	if bundles == nil {
		bundles, _ = config.LoadStrategyBundles("")
	}
	return &Selector{bundles: bundles}
}

// Select returns the exhaustive, priority-ordered strategy list for a profile.
func (s *Selector) Select(profile *models.SiteProfile) []models.Strategy {
	var combined []models.Strategy
	if profile.Protection != models.ProtectionNone {
		combined = append(combined, protectionOrder[profile.Protection]...)
	} else {
		order, ok := siteTypeOrder[profile.SiteType]
		if !ok {
			order = siteTypeOrder[models.SiteUnknown]
		}
		combined = append(combined, order...)
	}

	// Make the list exhaustive.
	for _, st := range models.AllStrategies {
		if !contains(combined, st) {
			combined = append(combined, st)
		}
	}

	// Observed latency overrides the static ordering.
	if profile.ResponseTimeMs > 5000 {
		combined = promote(combined, models.StrategyRobust)
	} else if profile.ResponseTimeMs < 500 && profile.SiteType == models.SiteStatic &&
		profile.Protection == models.ProtectionNone {
		combined = promote(combined, models.StrategyFast)
	}

	log.Debug().
		Str("url", profile.URL).
		Str("site_type", string(profile.SiteType)).
		Str("protection", string(profile.Protection)).
		Interface("strategies", combined).
		Msg("Strategy cascade selected")

	return combined
}

// SelectForSubpage returns the cascade for a subpage: the strategy that
// carried the main page first, then its downgrade path.
func (s *Selector) SelectForSubpage(mainStrategy models.Strategy) []models.Strategy {
	out := []models.Strategy{mainStrategy}
	out = append(out, subpageFallback[mainStrategy]...)
	return out
}

// Bundle resolves a strategy name to its configuration.
func (s *Selector) Bundle(st models.Strategy) config.StrategyBundle {
	if b, ok := s.bundles[st]; ok {
		return b
	}
	return s.bundles[models.StrategyStandard]
}

func contains(list []models.Strategy, st models.Strategy) bool {
	for _, x := range list {
		if x == st {
			return true
		}
	}
	return false
}

// promote moves st to the front, preserving the rest of the ordering.
func promote(list []models.Strategy, st models.Strategy) []models.Strategy {
	out := []models.Strategy{st}
	for _, x := range list {
		if x != st {
			out = append(out, x)
		}
	}
	return out
}
