package dispatch

import (
	"regexp"
	"strings"
)

var (
	thinkBlock   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	danglingOpen = regexp.MustCompile(`(?is)<think>.*$`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// CleanReply removes model reasoning blocks and collapses the blank lines they leave.
func CleanReply(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	text = danglingOpen.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "</think>", "")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
