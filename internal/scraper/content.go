package scraper

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// TextFormat selects how page HTML becomes chunker input.
type TextFormat string

const (
	FormatText     TextFormat = "text"
	FormatMarkdown TextFormat = "markdown"
)

var mdConverter = md.NewConverter("", true, nil)

// ExtractContent turns a fetched HTML body into normalized text. The text
// format flattens everything to visible text; the markdown format preserves
// headings and lists, which downstream extraction prompts handle better.
func ExtractContent(html string, format TextFormat) string {
	if html == "" {
		return ""
	}

	if format == FormatMarkdown {
		out, err := mdConverter.ConvertString(html)
		if err == nil {
			return strings.TrimSpace(out)
		}
		log.Debug().Err(err).Msg("Markdown conversion failed, falling back to plain text")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	doc.Find("script, style, noscript, iframe, svg").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(sel.Text())
	})
	text := sb.String()
	if text == "" {
		text = doc.Text()
	}
	return strings.TrimSpace(text)
}
