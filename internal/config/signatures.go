package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Signatures holds the protection-detection pattern lists. All patterns are
// matched against lowercased body text or header names.
type Signatures struct {
	CloudflareBody []string `json:"cloudflare_body_signatures"`
	CloudflareHeaders []string `json:"cloudflare_headers"`
	WAFBody        []string `json:"waf_body_signatures"`
	WAFHeaders     []string `json:"waf_headers"`
	Captcha        []string `json:"captcha_signatures"`
	RateLimit      []string `json:"rate_limit_signatures"`
	BotDetection   []string `json:"bot_detection_signatures"`
}

// DefaultSignatures returns the compiled-in pattern lists.
func DefaultSignatures() *Signatures {
	return &Signatures{
		CloudflareBody: []string{
			"just a moment...",
			"cf-browser-verification",
			"challenge-running",
			"cf_chl_opt",
			"checking your browser",
			"ray id:",
			"cloudflare",
		},
		CloudflareHeaders: []string{"cf-ray", "cf-cache-status"},
		WAFBody: []string{
			"access denied",
			"403 forbidden",
			"blocked by security",
			"firewall",
			"security check",
		},
		WAFHeaders: []string{"x-sucuri-id", "x-waf", "x-akamai"},
		Captcha: []string{
			"recaptcha",
			"hcaptcha",
			"challenge-form",
			"g-recaptcha",
			"captcha",
		},
		RateLimit: []string{
			"rate limit",
			"too many requests",
			"request limit",
			"slow down",
		},
		BotDetection: []string{
			"bot detected",
			"automated access",
			"unusual traffic",
			"are you a robot",
		},
	}
}

// LoadSignatures reads pattern lists from a JSON file, or returns the
// compiled-in defaults when path is empty. Lists absent from the file keep
// their defaults so a partial override stays safe.
func LoadSignatures(path string) (*Signatures, error) {
	sig := DefaultSignatures()
	if path == "" {
		return sig, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signatures: %w", err)
	}
	if err := json.Unmarshal(data, sig); err != nil {
		return nil, fmt.Errorf("parsing signatures: %w", err)
	}
	return sig, nil
}
