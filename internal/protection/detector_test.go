package protection

import (
	"testing"

	"github.com/b2bflash/crawler/pkg/models"
)

func TestDetect(t *testing.T) {
	d := NewDetector(nil)

	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    models.Protection
	}{
		{
			name:   "clean page",
			status: 200,
			body:   "<html><body><h1>Acme Industries</h1><p>Welcome to our site</p></body></html>",
			want:   models.ProtectionNone,
		},
		{
			name:   "429 is rate limit regardless of body",
			status: 429,
			body:   "<html>anything</html>",
			want:   models.ProtectionRateLimit,
		},
		{
			name:    "retry-after header",
			status:  200,
			headers: map[string]string{"Retry-After": "2"},
			want:    models.ProtectionRateLimit,
		},
		{
			name:    "cloudflare challenge",
			status:  503,
			headers: map[string]string{"Server": "cloudflare"},
			body:    "<title>Just a moment...</title> cloudflare ray id: 8f2",
			want:    models.ProtectionCloudflare,
		},
		{
			name:   "cloudflare mention without challenge is not protection",
			status: 200,
			body:   "we host our blog behind cloudflare for performance",
			want:   models.ProtectionNone,
		},
		{
			name:   "recaptcha",
			status: 200,
			body:   `<div class="g-recaptcha" data-sitekey="x"></div>`,
			want:   models.ProtectionCaptcha,
		},
		{
			name:   "waf needs two phrases",
			status: 200,
			body:   "access denied - blocked by security policy",
			want:   models.ProtectionWAF,
		},
		{
			name:   "single waf phrase is not enough",
			status: 200,
			body:   "the firewall of our building is made of brick",
			want:   models.ProtectionNone,
		},
		{
			name:    "403 with waf header",
			status:  403,
			headers: map[string]string{"X-Sucuri-ID": "abc"},
			body:    "",
			want:    models.ProtectionWAF,
		},
		{
			name:   "bot detection phrase",
			status: 200,
			body:   "unusual traffic from your network",
			want:   models.ProtectionBot,
		},
		{
			name:   "rate limit phrase in body",
			status: 200,
			body:   "you have hit the rate limit, try again later",
			want:   models.ProtectionRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.status, tt.headers, tt.body)
			if got != tt.want {
				t.Errorf("Detect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRecommend(t *testing.T) {
	d := NewDetector(nil)

	if r := d.Recommend(models.ProtectionCaptcha); r.CanRetry {
		t.Error("captcha should not be retryable")
	}
	if r := d.Recommend(models.ProtectionCloudflare); !r.ChangeStrategy || r.RecommendedStrategy != models.StrategyAggressive {
		t.Errorf("cloudflare recommendation = %+v", r)
	}
	if r := d.Recommend(models.ProtectionRateLimit); !r.CanRetry || r.Delay <= 0 {
		t.Errorf("rate limit recommendation = %+v", r)
	}
	if r := d.Recommend(models.ProtectionNone); !r.CanRetry || r.Delay != 0 {
		t.Errorf("none recommendation = %+v", r)
	}
}
