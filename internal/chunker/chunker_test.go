package chunker

import (
	"strings"
	"testing"

	"github.com/b2bflash/crawler/pkg/models"
)

func TestChunkLossless(t *testing.T) {
	c := New(Options{MaxChunkTokens: 100, CharsPerToken: 3.5})

	inputs := []string{
		"short",
		strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200),
		strings.Repeat("word ", 5000),
		strings.Repeat("unbrokenrunofletterswithoutanywhitespaceatall", 300),
	}
	for _, input := range inputs {
		chunks := c.Chunk(input, nil)
		var sb strings.Builder
		for _, ch := range chunks {
			sb.WriteString(ch.Content)
		}
		if sb.String() != input {
			t.Errorf("concatenated chunks differ from input (len %d vs %d)", sb.Len(), len(input))
		}
	}
}

func TestChunkTokenBounded(t *testing.T) {
	c := New(Options{MaxChunkTokens: 1000, CharsPerToken: 3.5})
	input := strings.Repeat("several words of body text separated by spaces\n", 1000)

	for _, ch := range c.Chunk(input, nil) {
		if ch.TokenCount > 1000 {
			t.Errorf("chunk %d has %d tokens, budget 1000", ch.Index, ch.TokenCount)
		}
		if est := c.EstimateTokens(ch.Content); est != ch.TokenCount {
			t.Errorf("chunk %d token count %d != estimate %d", ch.Index, ch.TokenCount, est)
		}
	}
}

func TestChunkIndexMonotonic(t *testing.T) {
	c := New(Options{MaxChunkTokens: 50, CharsPerToken: 3.5})
	input := strings.Repeat("line of text\n", 500)

	chunks := c.Chunk(input, nil)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has index %d", i, ch.Index)
		}
		if ch.TotalChunks != len(chunks) {
			t.Errorf("chunk %d has total %d, want %d", i, ch.TotalChunks, len(chunks))
		}
	}
}

func TestChunkRepetitionMargin(t *testing.T) {
	c := New(Options{MaxChunkTokens: 1000, CharsPerToken: 3.5})

	// One million identical characters: maximum repetition, maximum margin.
	input := strings.Repeat("A", 1_000_000)
	chunks := c.Chunk(input, nil)

	var sb strings.Builder
	for _, ch := range chunks {
		if ch.TokenCount > 800 {
			t.Errorf("chunk %d has %d tokens, repetition margin should cap at 800", ch.Index, ch.TokenCount)
		}
		sb.WriteString(ch.Content)
	}
	if sb.String() != input {
		t.Error("repetition margin broke losslessness")
	}
}

func TestChunkNeverSplitsRunes(t *testing.T) {
	c := New(Options{MaxChunkTokens: 30, CharsPerToken: 3.5})
	input := strings.Repeat("ação coração não çãé ", 500)

	for _, ch := range c.Chunk(input, nil) {
		if len(ch.Content) == 0 {
			t.Fatal("empty chunk")
		}
		for _, r := range ch.Content {
			if r == '�' {
				t.Fatal("chunk boundary split a multibyte codepoint")
			}
		}
	}
}

func TestChunkOverheadRespected(t *testing.T) {
	c := New(Options{
		MaxChunkTokens:       1000,
		CharsPerToken:        3.5,
		SystemPromptOverhead: 300,
		MessageOverhead:      100,
	})
	input := strings.Repeat("some text with spaces in it here\n", 2000)

	for _, ch := range c.Chunk(input, nil) {
		if ch.TokenCount > 600 {
			t.Errorf("chunk %d has %d tokens; 400 tokens of overhead should cap content at 600", ch.Index, ch.TokenCount)
		}
	}
}

func TestBuildInputSpans(t *testing.T) {
	c := New(Options{MaxChunkTokens: 100000, CharsPerToken: 3.5})
	pages := []*models.ScrapedPage{
		{URL: "http://a.example/", Content: "Main page content with enough words."},
		{URL: "http://a.example/about", Content: "About page content."},
		{URL: "http://a.example/broken", Content: ""},
	}

	input, spans := c.BuildInput(pages)
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2 (empty page skipped)", len(spans))
	}
	for _, sp := range spans {
		if sp.Start >= sp.End || sp.End > len(input) {
			t.Errorf("bad span %+v for input len %d", sp, len(input))
		}
	}

	chunks := c.Chunk(input, spans)
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if len(chunks[0].PagesIncluded) != 2 {
		t.Errorf("pages included = %v, want both URLs", chunks[0].PagesIncluded)
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := New(Options{})
	if got := c.Chunk("", nil); got != nil {
		t.Errorf("empty input produced %d chunks", len(got))
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"collapse spaces", "a    b\t\tc", "a b c"},
		{"collapse blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"crlf", "a\r\nb\rc", "a\nb\nc"},
		{"trim", "   body   ", "body"},
		{"invalid utf8 dropped", "ok\xffgood", "okgood"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preprocess(tt.in); got != tt.want {
				t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
