package story

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emojiRegex = regexp.MustCompile(`[\x{1F600}-\x{1F64F}]|[\x{1F300}-\x{1F5FF}]|[\x{1F680}-\x{1F6FF}]|[\x{1F1E0}-\x{1F1FF}]|[\x{2600}-\x{26FF}]|[\x{2700}-\x{27BF}]|[\x{1F900}-\x{1F9FF}]|[\x{1FA70}-\x{1FAFF}]|[\x{1F004}-\x{1F0CF}]`)

	variationSelectorRegex = regexp.MustCompile(`[\x{FE00}-\x{FE0F}]`)

	zeroWidth = strings.NewReplacer("\u200B", " ", "\u200C", " ", "\u200D", " ", "\uFEFF", " ")

	markupChars = strings.NewReplacer("*", "", "#", "", "_", "")
)

// RemoveEmojis strips pictographs, markdown emphasis and zero-width characters
// that speech synthesis reads badly, and collapses whitespace runs inside a
// line. Paragraph breaks are kept.
func RemoveEmojis(text string) string {
	cleaned := emojiRegex.ReplaceAllString(text, "")
	cleaned = variationSelectorRegex.ReplaceAllString(cleaned, "")
	cleaned = zeroWidth.Replace(cleaned)
	cleaned = markupChars.Replace(cleaned)

	lines := strings.Split(cleaned, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		kept = append(kept, collapseSpaces(line))
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func collapseSpaces(line string) string {
	var result strings.Builder
	result.Grow(len(line))

	inWhitespace := false
	for _, r := range line {
		if unicode.IsSpace(r) {
			if !inWhitespace {
				result.WriteRune(' ')
				inWhitespace = true
			}
			continue
		}
		result.WriteRune(r)
		inWhitespace = false
	}

	return strings.TrimSpace(result.String())
}
