package translator

import (
	"regexp"
	"strings"
)

var (
	reasoningRe   = regexp.MustCompile(`<think>[\s\S]*?</think>`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
	escapedNewRep = strings.NewReplacer(`\n`, "\n")
)

// Clean strips <think> reasoning spans, turns literal \n sequences into
// newlines, collapses runs of blank lines to one and trims the result.
// Clean(Clean(s)) == Clean(s).
func Clean(text string) string {
	out := text
	// Removing a span can join "<th" and "ink>...</think>" into a new span,
	// so strip until nothing changes.
	for {
		next := reasoningRe.ReplaceAllString(out, "")
		if next == out {
			break
		}
		out = next
	}
	out = escapedNewRep.Replace(out)
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
