package tts

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestChunkTextPrefersSentences(t *testing.T) {
	text := "Жил-был кролик. Он любил морковку! «Где сова?» Сова спала."
	chunks := chunkText(text, 40)

	assert.Equal(t, []string{"Жил-был кролик. Он любил морковку!", "«Где сова?» Сова спала."}, chunks)
}

func TestChunkTextFallsBackToWhitespace(t *testing.T) {
	chunks := chunkText("один два три четыре пять", 10)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 10)
	}
	assert.Equal(t, "один два три четыре пять", strings.Join(chunks, " "))
}

func TestChunkTextHardCut(t *testing.T) {
	chunks := chunkText(strings.Repeat("я", 25), 10)
	assert.Equal(t, []string{strings.Repeat("я", 10), strings.Repeat("я", 10), strings.Repeat("я", 5)}, chunks)
}

func TestChunkTextEdgeCases(t *testing.T) {
	assert.Nil(t, chunkText("abc", 0))
	assert.Empty(t, chunkText("", 10))
	assert.Equal(t, []string{"short"}, chunkText("short", 100))
}
