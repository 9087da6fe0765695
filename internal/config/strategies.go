package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/b2bflash/crawler/pkg/models"
)

// StrategyBundle is the fetch configuration carried by one named strategy.
type StrategyBundle struct {
	Timeout       time.Duration     `json:"-"`
	TimeoutS      int               `json:"timeout"`
	UseProxy      bool              `json:"use_proxy"`
	RotateUA      bool              `json:"rotate_ua"`
	RotateProxy   bool              `json:"rotate_proxy"`
	CustomHeaders bool              `json:"custom_headers"`
	RetryCount    int               `json:"retry_count"`
	Delay         time.Duration     `json:"-"`
	DelayS        float64           `json:"delay_between_requests"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// DefaultStrategyBundles returns the four named bundles.
func DefaultStrategyBundles() map[models.Strategy]StrategyBundle {
	return map[models.Strategy]StrategyBundle{
		models.StrategyFast: {
			TimeoutS: 10, UseProxy: true, RetryCount: 1, DelayS: 0.1,
		},
		models.StrategyStandard: {
			TimeoutS: 15, UseProxy: true, RetryCount: 2, DelayS: 0.5,
		},
		models.StrategyRobust: {
			TimeoutS: 20, UseProxy: true, RotateUA: true, RetryCount: 3, DelayS: 1.0,
		},
		models.StrategyAggressive: {
			TimeoutS: 25, UseProxy: true, RotateUA: true, RotateProxy: true,
			CustomHeaders: true, RetryCount: 3, DelayS: 2.0,
		},
	}
}

// LoadStrategyBundles reads bundle overrides from a JSON file keyed by
// strategy name, or returns the defaults when path is empty. The derived
// duration fields are always populated.
func LoadStrategyBundles(path string) (map[models.Strategy]StrategyBundle, error) {
	bundles := DefaultStrategyBundles()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading strategy bundles: %w", err)
		}
		var raw map[string]StrategyBundle
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing strategy bundles: %w", err)
		}
		for name, b := range raw {
			bundles[models.Strategy(name)] = b
		}
	}
	for name, b := range bundles {
		b.Timeout = time.Duration(b.TimeoutS) * time.Second
		b.Delay = time.Duration(b.DelayS * float64(time.Second))
		bundles[name] = b
	}
	return bundles, nil
}
