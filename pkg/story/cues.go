package story

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleProtagonist Role = "protagonist"
	RoleSetting     Role = "setting"
	RoleCompanion   Role = "companion"
	RoleFinale      Role = "finale"
)

type vocabularyEntry struct {
	role     Role
	keywords []string
	phrase   string
}

// vocabulary is scanned in order; the first entry of a role whose keyword
// occurs in the story wins.
var vocabulary = []vocabularyEntry{
	{RoleProtagonist, []string{"кролик", "нолик", "rabbit", "bunny"}, "a little rabbit with reddish-white fur"},
	{RoleProtagonist, []string{"лиса", "лисичк", "лисён", "fox"}, "a clever red fox"},
	{RoleProtagonist, []string{"медвед", "медвеж", "bear"}, "a kind brown bear cub"},
	{RoleProtagonist, []string{"принцесс", "princess"}, "a brave young princess"},
	{RoleProtagonist, []string{"дракон", "dragon"}, "a friendly little dragon"},
	{RoleProtagonist, []string{"ёжик", "ежик", "hedgehog"}, "a curious little hedgehog"},

	{RoleSetting, []string{"лес", "волшебн", "forest"}, "an enchanted emerald forest"},
	{RoleSetting, []string{"замок", "замк", "castle"}, "a fairytale castle on a hill"},
	{RoleSetting, []string{"море", "морск", "океан", "sea"}, "a sparkling sea shore"},
	{RoleSetting, []string{"космос", "звезд", "space"}, "a starry sky full of planets"},

	{RoleCompanion, []string{"сова", "сову", "совы", "совой", "офели", "owl"}, "a wise owl"},
	{RoleCompanion, []string{"фея", "волшебниц", "fairy"}, "a tiny glowing fairy"},
	{RoleCompanion, []string{"белк", "squirrel"}, "a cheerful squirrel"},

	{RoleFinale, []string{"озер", "вода", "lake"}, "beside a magical lake glowing with light"},
	{RoleFinale, []string{"радуг", "rainbow"}, "under a bright rainbow"},
	{RoleFinale, []string{"праздник", "celebrat"}, "at a joyful celebration with friends"},
}

var fallbackPhrases = map[Role]string{
	RoleProtagonist: "the story's main character",
	RoleSetting:     "a fairytale land",
	RoleFinale:      "at the climax of the tale",
}

// Cue is one narrative signal found in a story. Keyword is empty when the
// phrase is a generic fallback.
type Cue struct {
	Role    Role   `json:"role"`
	Phrase  string `json:"phrase"`
	Keyword string `json:"keyword,omitempty"`
}

func (c Cue) Found() bool {
	return c.Keyword != ""
}

type Cues struct {
	Protagonist Cue `json:"protagonist"`
	Setting     Cue `json:"setting"`
	Companion   Cue `json:"companion"`
	Finale      Cue `json:"finale"`
}

// ExtractCues does a case-insensitive substring lookup of the vocabulary.
func ExtractCues(text string) Cues {
	lower := strings.ToLower(text)

	found := make(map[Role]Cue, 4)
	for _, entry := range vocabulary {
		if _, ok := found[entry.role]; ok {
			continue
		}
		for _, keyword := range entry.keywords {
			if strings.Contains(lower, keyword) {
				found[entry.role] = Cue{Role: entry.role, Phrase: entry.phrase, Keyword: keyword}
				break
			}
		}
	}

	pick := func(role Role) Cue {
		if cue, ok := found[role]; ok {
			return cue
		}
		return Cue{Role: role, Phrase: fallbackPhrases[role]}
	}

	return Cues{
		Protagonist: pick(RoleProtagonist),
		Setting:     pick(RoleSetting),
		Companion:   pick(RoleCompanion),
		Finale:      pick(RoleFinale),
	}
}

type ImagePrompt struct {
	Position ImagePosition `json:"position"`
	Prompt   string        `json:"prompt"`
}

// ImagePrompts derives the beginning, middle and end illustrations of a story.
func ImagePrompts(text string) [3]ImagePrompt {
	return PromptsFromCues(ExtractCues(text))
}

func PromptsFromCues(c Cues) [3]ImagePrompt {
	meeting := "a meeting with a new friend"
	if c.Companion.Found() {
		meeting = "meeting " + c.Companion.Phrase
	}

	return [3]ImagePrompt{
		{
			Position: PositionBeginning,
			Prompt:   fmt.Sprintf("The beginning of a fairy tale: %s in %s", c.Protagonist.Phrase, c.Setting.Phrase),
		},
		{
			Position: PositionMiddle,
			Prompt:   fmt.Sprintf("The middle of a fairy tale: %s %s in %s", c.Protagonist.Phrase, meeting, c.Setting.Phrase),
		},
		{
			Position: PositionEnd,
			Prompt:   fmt.Sprintf("The happy ending of a fairy tale: %s %s", c.Protagonist.Phrase, c.Finale.Phrase),
		},
	}
}
