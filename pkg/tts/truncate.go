package tts

import "strings"

const (
	MaxChars        = 4096
	TruncatedNotice = "... (текст был сокращен для озвучивания)"
)

// Truncate keeps text within MaxChars runes. A shortened text ends with
// TruncatedNotice, which counts towards the limit.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxChars {
		return text
	}

	keep := MaxChars - len([]rune(TruncatedNotice))
	return strings.TrimRight(string(runes[:keep]), " \n\t") + TruncatedNotice
}
