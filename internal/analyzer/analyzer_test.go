package analyzer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/b2bflash/crawler/internal/fetch"
	"github.com/b2bflash/crawler/internal/protection"
	"github.com/b2bflash/crawler/internal/proxy"
	"github.com/b2bflash/crawler/pkg/models"
)

func newTestAnalyzer() *Analyzer {
	return New(
		fetch.NewClient(nil),
		proxy.NewPool(nil, proxy.Options{}),
		protection.NewDetector(nil),
		Options{Timeout: 2 * time.Second, ProbeAttempts: 1},
	)
}

func TestAnalyzeStaticSite(t *testing.T) {
	html := `<html><head><title>Acme</title></head><body>` +
		strings.Repeat("<p>Industrial valves and fittings for the oil sector.</p>", 30) +
		`</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer server.Close()

	p := newTestAnalyzer().Analyze(context.Background(), server.URL)

	if p.SiteType != models.SiteStatic {
		t.Errorf("site type = %s, want static", p.SiteType)
	}
	if p.Protection != models.ProtectionNone {
		t.Errorf("protection = %s, want none", p.Protection)
	}
	if p.StatusCode != 200 {
		t.Errorf("status = %d", p.StatusCode)
	}
	if p.RawHTML == "" {
		t.Error("raw html not retained")
	}
}

func TestAnalyzeSPA(t *testing.T) {
	html := `<html><head><script src="/bundle.js"></script></head>` +
		`<body><div id="root"></div></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer server.Close()

	p := newTestAnalyzer().Analyze(context.Background(), server.URL)

	if p.SiteType != models.SiteSPA {
		t.Errorf("site type = %s, want spa", p.SiteType)
	}
	if p.BestStrategy != models.StrategyRobust {
		t.Errorf("best strategy = %s, want robust", p.BestStrategy)
	}
}

func TestAnalyzeCloudflare(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`<html><title>Just a moment...</title>cloudflare ray id: 81aa2f</html>`))
	}))
	defer server.Close()

	p := newTestAnalyzer().Analyze(context.Background(), server.URL)

	if p.Protection != models.ProtectionCloudflare {
		t.Errorf("protection = %s, want cloudflare", p.Protection)
	}
	if p.BestStrategy != models.StrategyAggressive {
		t.Errorf("best strategy = %s, want aggressive", p.BestStrategy)
	}
}

func TestAnalyzeUnreachable(t *testing.T) {
	a := New(
		fetch.NewClient(nil),
		proxy.NewPool(nil, proxy.Options{}),
		protection.NewDetector(nil),
		Options{Timeout: 200 * time.Millisecond, ProbeAttempts: 2},
	)

	p := a.Analyze(context.Background(), "http://127.0.0.1:1/nothing")

	if p.ErrorMessage == "" {
		t.Error("expected error message on unreachable site")
	}
	if p.BestStrategy != models.StrategyRobust {
		t.Errorf("best strategy = %s on probe error, want robust", p.BestStrategy)
	}
}

func TestDetectSiteType(t *testing.T) {
	longText := strings.Repeat("Plenty of server-rendered prose here. ", 100)
	tests := []struct {
		name string
		html string
		want models.SiteType
	}{
		{"empty", "", models.SiteUnknown},
		{"static", "<html><body>" + longText + "</body></html>", models.SiteStatic},
		{"spa shell", `<html><body><div id="root"></div><script src="bundle.js"></script></body></html>`, models.SiteSPA},
		{"hybrid", `<html data-v-x><body><script src="main.js"></script><script src="vue-router.js"></script>` + longText + `</body></html>`, models.SiteHybrid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectSiteType(tt.html); got != tt.want {
				t.Errorf("detectSiteType() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStripText(t *testing.T) {
	html := `<html><head><style>.x{color:red}</style></head>` +
		`<body><script>var x=1;</script><p>Visible words</p></body></html>`
	text := StripText(html)
	if strings.Contains(text, "color:red") || strings.Contains(text, "var x") {
		t.Errorf("script/style leaked into text: %q", text)
	}
	if !strings.Contains(text, "Visible words") {
		t.Errorf("visible text missing: %q", text)
	}
}
