package chunker

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// Options tune the token budget and estimation.
type Options struct {
	MaxChunkTokens       int
	CharsPerToken        float64
	SystemPromptOverhead int
	MessageOverhead      int
}

// Chunker splits preprocessed text into token-bounded chunks without losing
// a single byte: the concatenation of all chunk contents equals the input.
type Chunker struct {
	opts Options
}

// New creates a Chunker; zero option values take the defaults.
func New(opts Options) *Chunker {
	if opts.MaxChunkTokens <= 0 {
		opts.MaxChunkTokens = 500000
	}
	if opts.CharsPerToken <= 0 {
		opts.CharsPerToken = 3.5
	}
	if opts.SystemPromptOverhead < 0 {
		opts.SystemPromptOverhead = 0
	}
	if opts.MessageOverhead < 0 {
		opts.MessageOverhead = 0
	}
	return &Chunker{opts: opts}
}

// EstimateTokens approximates the token count of s. The divisor is
// deliberately conservative; an exact server-side count is only ever used
// for validation, never for splitting.
func (c *Chunker) EstimateTokens(s string) int {
	return int(math.Ceil(float64(len(s)) / c.opts.CharsPerToken))
}

// PageSpan maps a source URL to its byte range in the assembled input.
type PageSpan struct {
	URL   string
	Start int
	End   int
}

// BuildInput assembles the chunker input from the successfully fetched pages
// and records each page's span so chunks can be tagged with their sources.
func (c *Chunker) BuildInput(pages []*models.ScrapedPage) (string, []PageSpan) {
	var sb strings.Builder
	spans := make([]PageSpan, 0, len(pages))
	for _, p := range pages {
		text := Preprocess(p.Content)
		if text == "" {
			continue
		}
		start := sb.Len()
		sb.WriteString(text)
		sb.WriteString("\n\n")
		spans = append(spans, PageSpan{URL: p.URL, Start: start, End: sb.Len()})
	}
	return sb.String(), spans
}

// ChunkPages runs the full pipeline for one company: assemble, split, tag.
func (c *Chunker) ChunkPages(pages []*models.ScrapedPage) []models.Chunk {
	input, spans := c.BuildInput(pages)
	return c.Chunk(input, spans)
}

// Chunk splits text into chunks whose estimated tokens (plus the configured
// overhead) stay under the budget. Index and TotalChunks are assigned after
// the whole sequence exists.
func (c *Chunker) Chunk(text string, spans []PageSpan) []models.Chunk {
	if text == "" {
		return nil
	}

	budget := c.effectiveBudget(text)
	maxChars := int(float64(budget) * c.opts.CharsPerToken * 0.8)
	if maxChars < 1 {
		maxChars = 1
	}

	var chunks []models.Chunk
	pos := 0
	for pos < len(text) {
		cut := c.cutPoint(text, pos, maxChars, budget)
		content := text[pos:cut]
		chunks = append(chunks, models.Chunk{
			Content:       content,
			TokenCount:    c.EstimateTokens(content),
			PagesIncluded: pagesFor(spans, pos, cut),
		})
		pos = cut
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].TotalChunks = len(chunks)
	}

	if len(chunks) > 1 {
		log.Debug().
			Int("chunks", len(chunks)).
			Int("input_bytes", len(text)).
			Int("budget_tokens", budget).
			Msg("Content split into chunks")
	}
	return chunks
}

// effectiveBudget subtracts the fixed overhead and applies the repetition
// safety margin: highly repetitive content tokenizes worse than the
// chars-per-token estimate predicts.
func (c *Chunker) effectiveBudget(text string) int {
	budget := c.opts.MaxChunkTokens - c.opts.SystemPromptOverhead - c.opts.MessageOverhead
	if budget < 1 {
		budget = 1
	}

	rep := repetitionRate(text)
	if rep > 0.3 {
		margin := 0.05 + 0.15*rep
		if margin > 0.20 {
			margin = 0.20
		}
		budget = int(float64(budget) * (1 - margin))
		if budget < 1 {
			budget = 1
		}
	}
	return budget
}

// repetitionRate is 1 - unique_line_ratio over the text's lines. Lines longer
// than 200 bytes are sliced into fixed segments first, so a single enormous
// line of repeated content still registers as repetitive.
func repetitionRate(text string) float64 {
	const segment = 200
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		for len(l) > segment {
			lines = append(lines, l[:segment])
			l = l[segment:]
		}
		lines = append(lines, l)
	}
	if len(lines) < 2 {
		return 0
	}
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		seen[l] = true
	}
	return 1 - float64(len(seen))/float64(len(lines))
}

// cutPoint finds the end offset of the chunk starting at pos: a natural
// boundary near maxChars that fits the token budget. It never lands inside a
// multibyte codepoint and always advances.
func (c *Chunker) cutPoint(text string, pos, maxChars, budget int) int {
	remaining := len(text) - pos
	if remaining <= maxChars && c.EstimateTokens(text[pos:]) <= budget {
		return len(text)
	}

	size := maxChars
	if size > remaining {
		size = remaining
	}
	cut := alignRune(text, pos+size)

	// Break at the last newline or space, but only when it sits close enough
	// to the target size to be worth the shorter chunk.
	window := text[pos:cut]
	breakPoint := strings.LastIndexByte(window, '\n')
	if sp := strings.LastIndexByte(window, ' '); sp > breakPoint {
		breakPoint = sp
	}
	if breakPoint > int(float64(size)*0.7) {
		cut = pos + breakPoint + 1
	}

	// Shrink until the candidate fits the budget: fraction ladder first,
	// then an estimated chars-per-token ratio cut, then 100-char fine trim.
	if c.EstimateTokens(text[pos:cut]) > budget {
		fitted := false
		base := cut - pos
		for _, f := range []float64{0.95, 0.90, 0.85, 0.80, 0.75, 0.70, 0.65, 0.60, 0.55, 0.50} {
			trial := alignRune(text, pos+int(float64(base)*f))
			if trial <= pos {
				break
			}
			if c.EstimateTokens(text[pos:trial]) <= budget {
				cut = trial
				fitted = true
				break
			}
		}
		if !fitted {
			tokens := c.EstimateTokens(text[pos:cut])
			ratio := float64(cut-pos) / float64(tokens)
			cut = alignRune(text, pos+int(float64(budget)*ratio*0.9))
			for cut > pos && c.EstimateTokens(text[pos:cut]) > budget {
				cut = alignRune(text, cut-100)
			}
		}
	}

	if cut <= pos {
		// Pathological budget: emit at least one rune to guarantee progress.
		_, n := utf8.DecodeRuneInString(text[pos:])
		cut = pos + n
	}
	return cut
}

// alignRune moves offset back to the nearest rune start.
func alignRune(s string, offset int) int {
	if offset >= len(s) {
		return len(s)
	}
	if offset < 0 {
		return 0
	}
	for offset > 0 && !utf8.RuneStart(s[offset]) {
		offset--
	}
	return offset
}

func pagesFor(spans []PageSpan, start, end int) []string {
	var urls []string
	for _, sp := range spans {
		if sp.Start < end && sp.End > start {
			urls = append(urls, sp.URL)
		}
	}
	return urls
}
