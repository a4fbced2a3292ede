package utils

import (
	"strings"
	"time"
)

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// EstimateDuration approximates how long text takes to read aloud.
func EstimateDuration(text string, perWord time.Duration) time.Duration {
	return time.Duration(WordCount(text)) * perWord
}
