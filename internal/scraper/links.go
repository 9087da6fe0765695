package scraper

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/b2bflash/crawler/internal/config"
)

// LinkFunnel is the outcome of extracting and filtering the main page links.
type LinkFunnel struct {
	InHTML      int
	AfterFilter int
	Selected    []string
	Documents   []string
}

// ExtractLinks parses the main page HTML and returns same-origin subpage
// candidates: excluded extensions and asset paths filtered out, deduplicated
// by normalized URL, capped at maxLinks with the first maxSubpages selected.
func ExtractLinks(baseURL, html string, maxLinks, maxSubpages int) LinkFunnel {
	funnel := LinkFunnel{}

	base, err := url.Parse(baseURL)
	if err != nil {
		return funnel
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return funnel
	}

	seen := make(map[string]bool)
	var filtered []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" {
			return
		}
		funnel.InHTML++

		resolved := resolveURL(base, href)
		if resolved == nil {
			return
		}
		if !sameOrigin(base, resolved) {
			return
		}

		ext := strings.ToLower(path.Ext(resolved.Path))
		if config.DocumentExtensions[ext] {
			norm := normalizeURL(resolved)
			if !seen["doc:"+norm] {
				seen["doc:"+norm] = true
				funnel.Documents = append(funnel.Documents, norm)
			}
			return
		}
		if config.ExcludedExtensions[ext] {
			return
		}
		for _, pattern := range config.ExcludedPathPatterns {
			if strings.Contains(resolved.Path, pattern) {
				return
			}
		}

		norm := normalizeURL(resolved)
		if norm == normalizeURL(base) || seen[norm] {
			return
		}
		seen[norm] = true

		if len(filtered) < maxLinks {
			filtered = append(filtered, norm)
		}
	})

	funnel.AfterFilter = len(filtered)
	if maxSubpages > len(filtered) {
		maxSubpages = len(filtered)
	}
	funnel.Selected = filtered[:maxSubpages]
	return funnel
}

// resolveURL resolves a possibly-relative href against the base.
func resolveURL(base *url.URL, href string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	return resolved
}

func sameOrigin(base, u *url.URL) bool {
	return strings.EqualFold(stripWWW(base.Hostname()), stripWWW(u.Hostname()))
}

func stripWWW(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// normalizeURL drops the fragment, lowercases the host, and drops the trailing
// slash of a bare root URL so duplicates collapse.
func normalizeURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Host = strings.ToLower(c.Host)
	s := c.String()
	if strings.HasSuffix(s, "/") && c.Path == "/" && c.RawQuery == "" {
		s = strings.TrimSuffix(s, "/")
	}
	return s
}
