package scraper

import (
	"fmt"
	"strings"
	"testing"
)

func TestExtractLinks(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	// 12 good internal links
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, `<a href="/page-%d">Page %d</a>`, i, i)
	}
	// filtered: external, assets, documents, duplicates
	sb.WriteString(`<a href="https://other.example/out">external</a>`)
	sb.WriteString(`<a href="/logo.png">logo</a>`)
	sb.WriteString(`<a href="/styles.css">css</a>`)
	sb.WriteString(`<a href="/assets/banner.jpg">banner</a>`)
	sb.WriteString(`<a href="/static/app.js">js</a>`)
	sb.WriteString(`<a href="/catalog.pdf">catalog</a>`)
	sb.WriteString(`<a href="/page-0">duplicate</a>`)
	sb.WriteString(`<a href="/page-1#section">fragment dup</a>`)
	sb.WriteString("</body></html>")

	funnel := ExtractLinks("http://acme.example/", sb.String(), 50, 5)

	if funnel.InHTML != 20 {
		t.Errorf("links in html = %d, want 20", funnel.InHTML)
	}
	if funnel.AfterFilter != 12 {
		t.Errorf("links after filter = %d, want 12", funnel.AfterFilter)
	}
	if len(funnel.Selected) != 5 {
		t.Errorf("selected = %d, want 5", len(funnel.Selected))
	}
	if len(funnel.Documents) != 1 || !strings.HasSuffix(funnel.Documents[0], "/catalog.pdf") {
		t.Errorf("documents = %v", funnel.Documents)
	}
	for _, l := range funnel.Selected {
		if !strings.HasPrefix(l, "http://acme.example/") {
			t.Errorf("selected link not same-origin: %s", l)
		}
	}
}

func TestExtractLinksCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, `<a href="/p%d">x</a>`, i)
	}
	sb.WriteString("</body></html>")

	funnel := ExtractLinks("http://acme.example/", sb.String(), 50, 5)
	if funnel.AfterFilter != 50 {
		t.Errorf("cap not applied: %d", funnel.AfterFilter)
	}
}

func TestExtractLinksWWWEquivalence(t *testing.T) {
	html := `<a href="http://www.acme.example/about">about</a>`
	funnel := ExtractLinks("http://acme.example/", html, 50, 5)
	if funnel.AfterFilter != 1 {
		t.Errorf("www-prefixed same-origin link filtered out")
	}
}

func TestExtractLinksSkipsSelf(t *testing.T) {
	html := `<a href="/">home</a><a href="http://acme.example">home2</a><a href="/about">about</a>`
	funnel := ExtractLinks("http://acme.example/", html, 50, 5)
	if funnel.AfterFilter != 1 {
		t.Errorf("self links should be dropped, got %d", funnel.AfterFilter)
	}
}

func TestExtractLinksBadHTML(t *testing.T) {
	funnel := ExtractLinks("http://acme.example/", "<<<>>>not html", 50, 5)
	if funnel.AfterFilter != 0 {
		t.Errorf("garbage html produced links: %+v", funnel)
	}
}
