package story

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// Subtitles splits a story into sentence segments. A segment ends at
// terminal punctuation followed by whitespace; empty segments are dropped.
func Subtitles(text string) []string {
	segments := make([]string, 0)
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		segments = appendSegment(segments, text[start:loc[0]+1])
		start = loc[1]
	}
	return appendSegment(segments, text[start:])
}

func appendSegment(segments []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return segments
	}
	return append(segments, s)
}
