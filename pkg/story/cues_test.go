package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCues(t *testing.T) {
	text := "В волшебном ЛЕСУ жил Кролик Нолик. Однажды он встретил мудрую сову Офелию, и они пошли к озеру."
	c := ExtractCues(text)

	assert.Equal(t, "a little rabbit with reddish-white fur", c.Protagonist.Phrase)
	assert.Equal(t, "кролик", c.Protagonist.Keyword)
	assert.Equal(t, "an enchanted emerald forest", c.Setting.Phrase)
	assert.Equal(t, "a wise owl", c.Companion.Phrase)
	assert.Equal(t, "beside a magical lake glowing with light", c.Finale.Phrase)
}

func TestExtractCuesTableOrderWins(t *testing.T) {
	c := ExtractCues("Дракон подружился с кроликом.")
	assert.Equal(t, "a little rabbit with reddish-white fur", c.Protagonist.Phrase)
}

func TestExtractCuesFallbacks(t *testing.T) {
	c := ExtractCues("Жил-был мальчик Петя.")

	assert.False(t, c.Protagonist.Found())
	assert.Equal(t, "the story's main character", c.Protagonist.Phrase)
	assert.Equal(t, "a fairytale land", c.Setting.Phrase)
	assert.Equal(t, "at the climax of the tale", c.Finale.Phrase)
	assert.False(t, c.Companion.Found())
}

func TestImagePrompts(t *testing.T) {
	prompts := ImagePrompts("Жил-был ёжик в замке.")

	assert.Equal(t, PositionBeginning, prompts[0].Position)
	assert.Equal(t, PositionMiddle, prompts[1].Position)
	assert.Equal(t, PositionEnd, prompts[2].Position)

	assert.Equal(t, "The beginning of a fairy tale: a curious little hedgehog in a fairytale castle on a hill", prompts[0].Prompt)
	assert.Contains(t, prompts[1].Prompt, "a meeting with a new friend")
	assert.Equal(t, "The happy ending of a fairy tale: a curious little hedgehog at the climax of the tale", prompts[2].Prompt)

	assert.Equal(t, prompts, ImagePrompts("Жил-был ёжик в замке."))
}

func TestImagePromptsWithCompanion(t *testing.T) {
	prompts := ImagePrompts("Лиса и белка нашли радугу.")
	assert.Equal(t, "The middle of a fairy tale: a clever red fox meeting a cheerful squirrel in a fairytale land", prompts[1].Prompt)
	assert.Contains(t, prompts[2].Prompt, "under a bright rainbow")
}
