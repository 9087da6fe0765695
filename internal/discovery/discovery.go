// Package discovery finds the official site for a company that has no known
// URL: a search-provider query produces candidates, and a SitePicker chooses
// the official one. The batch path never depends on this package; it
// serves the single-company accept flow.
package discovery

import (
	"context"
	"strings"
)

// Candidate is one search hit offered to the picker.
type Candidate struct {
	Title   string `json:"title"`
	URL     string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchProvider returns web candidates for a company query.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// SitePicker chooses the official site among candidates; "" means none of
// them is the company's own site. The picker shipped in this package and
// wired by internal/app is HeuristicPicker; no LLM-backed picker is included.
type SitePicker interface {
	Pick(ctx context.Context, cnpj, companyName string, candidates []Candidate) (string, error)
}

// directoryDomains are aggregators and marketplaces that are never a
// company's official site.
var directoryDomains = []string{
	"cnpj.biz",
	"econodata.com.br",
	"telelistas.net",
	"apontador.com.br",
	"serasaexperian.com.br",
	"olx.com.br",
	"mercadolivre.com.br",
	"shopee.com.br",
	"facebook.com",
	"instagram.com",
	"linkedin.com",
}

// FilterDirectories drops candidates hosted on known directory domains.
func FilterDirectories(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !isDirectory(c.URL) {
			out = append(out, c)
		}
	}
	return out
}

func isDirectory(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, d := range directoryDomains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// BuildQuery composes the provider query for one company.
func BuildQuery(companyName, cnpj string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(companyName))
	if cnpj != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("CNPJ ")
		sb.WriteString(cnpj)
	}
	return sb.String()
}
