package chunker

import (
	"regexp"
	"strings"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Preprocess deterministically normalizes extracted page text: invalid UTF-8
// dropped, horizontal whitespace collapsed, blank-line runs capped at one.
// Chunking losslessness is defined over this output.
func Preprocess(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRun.ReplaceAllString(text, " ")

	// Trim trailing spaces per line so whitespace collapse is stable.
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	text = strings.Join(lines, "\n")

	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
