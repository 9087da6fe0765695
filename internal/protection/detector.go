package protection

import (
	"strings"
	"time"

	"github.com/b2bflash/crawler/internal/config"
	"github.com/b2bflash/crawler/pkg/models"
)

// Detector classifies an HTTP response as one of the protection labels based
// on status code, headers, and lowercased body signatures. The signature
// tables come from configuration so they can be tuned without code changes.
type Detector struct {
	sig *config.Signatures
}

// NewDetector creates a Detector over the given signature tables; nil takes
// the compiled-in defaults.
func NewDetector(sig *config.Signatures) *Detector {
	if sig == nil {
		sig = config.DefaultSignatures()
	}
	return &Detector{sig: sig}
}

// Detect returns the protection label for a response. headers keys are
// matched case-insensitively; body is lowercased internally.
func (d *Detector) Detect(statusCode int, headers map[string]string, body string) models.Protection {
	lowBody := strings.ToLower(body)
	lowHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		lowHeaders[strings.ToLower(k)] = v
	}

	if statusCode == 429 {
		return models.ProtectionRateLimit
	}
	if statusCode == 403 {
		if d.matchWAF(lowBody, lowHeaders) {
			return models.ProtectionWAF
		}
		if d.matchRateLimit(lowBody, lowHeaders) {
			return models.ProtectionRateLimit
		}
	}
	if d.matchCloudflare(lowBody, lowHeaders) {
		return models.ProtectionCloudflare
	}
	if d.matchAny(lowBody, d.sig.Captcha) {
		return models.ProtectionCaptcha
	}
	if d.matchWAF(lowBody, lowHeaders) {
		return models.ProtectionWAF
	}
	if d.matchRateLimit(lowBody, lowHeaders) {
		return models.ProtectionRateLimit
	}
	if d.matchAny(lowBody, d.sig.BotDetection) {
		return models.ProtectionBot
	}
	return models.ProtectionNone
}

func (d *Detector) matchAny(body string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(body, p) {
			return true
		}
	}
	return false
}

// challengeMarkers returns the head of the Cloudflare body list; the generic
// "cloudflare" trailer alone (a CDN header echo) is not a challenge.
func (d *Detector) challengeMarkers() []string {
	sigs := d.sig.CloudflareBody
	if len(sigs) > 5 {
		sigs = sigs[:5]
	}
	return sigs
}

func (d *Detector) matchCloudflare(body string, headers map[string]string) bool {
	hasChallenge := d.matchAny(body, d.challengeMarkers())
	for _, h := range d.sig.CloudflareHeaders {
		if _, ok := headers[h]; ok && hasChallenge {
			return true
		}
	}
	return strings.Contains(body, "cloudflare") && hasChallenge
}

func (d *Detector) matchWAF(body string, headers map[string]string) bool {
	for key := range headers {
		for _, wh := range d.sig.WAFHeaders {
			if strings.Contains(key, wh) {
				return true
			}
		}
	}
	matches := 0
	for _, p := range d.sig.WAFBody {
		if strings.Contains(body, p) {
			matches++
		}
	}
	return matches >= 2
}

func (d *Detector) matchRateLimit(body string, headers map[string]string) bool {
	if _, ok := headers["retry-after"]; ok {
		return true
	}
	return d.matchAny(body, d.sig.RateLimit)
}

// Recommendation tells the caller how to proceed after a protection hit.
type Recommendation struct {
	CanRetry            bool
	Delay               time.Duration
	ChangeStrategy      bool
	RecommendedStrategy models.Strategy
}

// Recommend returns the retry posture for a protection label.
func (d *Detector) Recommend(p models.Protection) Recommendation {
	switch p {
	case models.ProtectionCloudflare:
		return Recommendation{CanRetry: true, Delay: 5 * time.Second, ChangeStrategy: true, RecommendedStrategy: models.StrategyAggressive}
	case models.ProtectionWAF:
		return Recommendation{CanRetry: true, Delay: 3 * time.Second, ChangeStrategy: true, RecommendedStrategy: models.StrategyRobust}
	case models.ProtectionCaptcha:
		return Recommendation{CanRetry: false}
	case models.ProtectionRateLimit:
		return Recommendation{CanRetry: true, Delay: 60 * time.Second}
	case models.ProtectionBot:
		return Recommendation{CanRetry: true, Delay: 10 * time.Second, ChangeStrategy: true, RecommendedStrategy: models.StrategyAggressive}
	default:
		return Recommendation{CanRetry: true}
	}
}
