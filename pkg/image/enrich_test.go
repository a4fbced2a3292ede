package image

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestEnrich(t *testing.T) {
	enriched := Enrich("a fox in a forest")
	assert.Equal(t, "a fox in a forest, "+StyleSuffix, enriched)
	assert.Equal(t, enriched, Enrich(enriched))
}

func TestEnrichKeepsStyledPrompts(t *testing.T) {
	for _, prompt := range []string{
		"A Children's Book picture of a bear",
		"детская иллюстрация: ёжик",
		"книжная графика, дракон",
	} {
		assert.Equal(t, prompt, Enrich(prompt))
	}
}

func TestEnrichCapsLength(t *testing.T) {
	enriched := Enrich(strings.Repeat("ж", 5000))
	assert.Equal(t, MaxPromptRunes, utf8.RuneCountInString(enriched))
	assert.True(t, strings.HasSuffix(enriched, StyleSuffix))
}

func TestPlaceholderURL(t *testing.T) {
	assert.Equal(t,
		"https://placehold.co/600x400/9370db/ffffff?text=The%20beginning%20of%20a%20fairy%20tale%3A",
		PlaceholderURL("The beginning of a fairy tale: a rabbit"))
	assert.Equal(t, PlaceholderURL("Кролик & сова"), PlaceholderURL("Кролик & сова"))
	assert.Contains(t, PlaceholderURL("Кролик & сова"), "%26")
}
