package tts

import (
	"strings"
	"unicode"
)

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isClosingQuote(r rune) bool {
	return r == '"' || r == '\'' || r == '”' || r == '’' || r == '»'
}

// chunkText splits text into chunks of at most chunkSize runes. It prefers to
// cut after a sentence (including closing quotes), then at whitespace, and
// cuts hard inside a word only when nothing else fits.
func chunkText(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		return nil
	}

	chunks := make([]string, 0)
	runes := []rune(text)
	start := 0

	for start < len(runes) {
		end := min(start+chunkSize, len(runes))
		if end < len(runes) {
			end = splitPoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		start = end
	}

	return chunks
}

// splitPoint finds where the next chunk starts, at most limit.
func splitPoint(runes []rune, start, limit int) int {
	space := -1
	for k := limit - 1; k > start; k-- {
		if isSentenceEnd(runes[k]) {
			next := k + 1
			for next < len(runes) && isClosingQuote(runes[next]) {
				next++
			}
			if next <= limit {
				return next
			}
		}
		if space < 0 && unicode.IsSpace(runes[k]) {
			space = k + 1
		}
	}
	if space > start {
		return space
	}
	return limit
}
