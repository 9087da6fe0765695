package discovery

import (
	"context"
	"net/url"
	"strings"
)

// HeuristicPicker is the default SitePicker: it prefers the candidate whose
// domain contains a token of the company name, falling back to the first
// candidate. Deployments with an LLM client swap in their own picker.
type HeuristicPicker struct{}

// NewHeuristicPicker creates the default picker.
func NewHeuristicPicker() *HeuristicPicker { return &HeuristicPicker{} }

// Pick implements SitePicker.
func (HeuristicPicker) Pick(_ context.Context, _, companyName string, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	for _, token := range nameTokens(companyName) {
		for _, c := range candidates {
			if host := hostOf(c.URL); host != "" && strings.Contains(host, token) {
				return c.URL, nil
			}
		}
	}
	return candidates[0].URL, nil
}

// nameTokens extracts the distinctive words of a company name, skipping
// corporate suffixes too generic to match on.
func nameTokens(name string) []string {
	skip := map[string]bool{
		"ltda": true, "sa": true, "s.a": true, "me": true, "epp": true,
		"eireli": true, "cia": true, "comercio": true, "industria": true,
		"de": true, "do": true, "da": true, "e": true,
	}
	var tokens []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		w = strings.Trim(w, ".,-")
		if len(w) >= 3 && !skip[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
