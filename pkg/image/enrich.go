package image

import (
	"net/url"
	"strings"
)

const (
	StyleSuffix = "children's-book watercolor illustration, vivid clean colors, no on-image text"

	MaxPromptRunes = 4000

	placeholderBase  = "https://placehold.co/600x400/9370db/ffffff?text="
	placeholderRunes = 30
)

var styleKeywords = []string{"children's book", "children's-book", "childrens book", "детск", "книж"}

// Enrich appends the picture-book style unless the prompt already asks for
// it. Applying it twice changes nothing.
func Enrich(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if hasStyle(prompt) {
		return truncateRunes(prompt, MaxPromptRunes)
	}

	room := MaxPromptRunes - len([]rune(StyleSuffix)) - 2
	return truncateRunes(prompt, room) + ", " + StyleSuffix
}

func hasStyle(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, keyword := range styleKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// PlaceholderURL is the stand-in image used once every provider failed.
func PlaceholderURL(prompt string) string {
	text := truncateRunes(strings.TrimSpace(prompt), placeholderRunes)
	return placeholderBase + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}
