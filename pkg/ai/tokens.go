package ai

import (
	"strings"
	"sync"

	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/pkoukk/tiktoken-go"
)

// Flatten joins a transcript into one prompt for providers without chat roles.
func Flatten(messages []story.Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Role+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

var (
	encoding     *tiktoken.Tiktoken
	encodingErr  error
	encodingOnce sync.Once
)

// TiktokenCounter counts prompt tokens with the cl100k_base encoding. It
// returns -1 when the encoding cannot be loaded.
func TiktokenCounter(text string) int {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		return -1
	}
	return len(encoding.Encode(text, nil, nil))
}
