package story

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andrejsstepanovs/fairytale/pkg/utils"
	"github.com/go-playground/validator/v10"
)

type Theme string

const (
	ThemeMagic      Theme = "волшебная"
	ThemeAdventure  Theme = "приключенческая"
	ThemeFantastic  Theme = "фантастическая"
	ThemeAnimals    Theme = "о животных"
	ThemeFriendship Theme = "о дружбе"

	DefaultTheme = ThemeMagic
)

var Themes = []Theme{ThemeMagic, ThemeAdventure, ThemeFantastic, ThemeAnimals, ThemeFriendship}

func (t Theme) Valid() bool {
	for _, known := range Themes {
		if t == known {
			return true
		}
	}
	return false
}

// phrase is the accusative form used inside the storyteller prompt.
func (t Theme) phrase() string {
	switch t {
	case ThemeAdventure:
		return "приключенческую сказку"
	case ThemeFantastic:
		return "фантастическую сказку"
	case ThemeAnimals:
		return "сказку о животных"
	case ThemeFriendship:
		return "сказку о дружбе"
	default:
		return "волшебную сказку"
	}
}

type Length string

const (
	LengthShort  Length = "короткая"
	LengthMedium Length = "средняя"
	LengthLong   Length = "длинная"

	DefaultLength = LengthShort
)

var Lengths = []Length{LengthShort, LengthMedium, LengthLong}

func (l Length) Valid() bool {
	for _, known := range Lengths {
		if l == known {
			return true
		}
	}
	return false
}

// MaxTokens is the completion budget requested from the story model.
func (l Length) MaxTokens() int {
	switch l {
	case LengthMedium:
		return 1800
	case LengthLong:
		return 3200
	default:
		return 900
	}
}

// Label is the approximate reading time shown next to the length choice.
func (l Length) Label() string {
	switch l {
	case LengthMedium:
		return "около 5 минут"
	case LengthLong:
		return "около 10 минут"
	default:
		return "около 2 минут"
	}
}

func (l Length) phrase() string {
	switch l {
	case LengthMedium:
		return "среднюю по длине"
	case LengthLong:
		return "длинную"
	default:
		return "короткую"
	}
}

const MaxTopicLength = 500

// Params are the user's form values. They are never altered by the pipeline,
// so a failed generation can be retried with exactly the same input.
type Params struct {
	Theme   Theme  `json:"theme" schema:"theme" validate:"theme" jsonschema:"enum=волшебная,enum=приключенческая,enum=фантастическая,enum=о животных,enum=о дружбе,default=волшебная"`
	Length  Length `json:"length" schema:"length" validate:"length" jsonschema:"enum=короткая,enum=средняя,enum=длинная,default=короткая"`
	Topic   string `json:"topic" schema:"topic" validate:"max=500" jsonschema:"maxLength=500"`
	Moral   string `json:"moral,omitempty" schema:"moral" validate:"max=200" jsonschema:"description=free text or the name of a known moral"`
	NoMoral bool   `json:"no_moral,omitempty" schema:"no_moral"`
}

// WithDefaults fills an empty theme and length.
func (p Params) WithDefaults() Params {
	if p.Theme == "" {
		p.Theme = DefaultTheme
	}
	if p.Length == "" {
		p.Length = DefaultLength
	}
	p.Topic = strings.TrimSpace(p.Topic)
	p.Moral = strings.TrimSpace(p.Moral)
	return p
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("theme", func(fl validator.FieldLevel) bool {
		return Theme(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("length", func(fl validator.FieldLevel) bool {
		return Length(fl.Field().String()).Valid()
	})
	return v
}

// Validate checks the params after defaults are applied.
func (p Params) Validate() error {
	return validate.Struct(p.WithDefaults())
}

type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// ValidateMessages checks a raw chat transcript posted to the story endpoint.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range messages {
		if err := validate.Struct(m); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// Prompt is the storyteller instruction sent as the single user message.
func (p Params) Prompt() string {
	p = p.WithDefaults()

	var b strings.Builder
	b.WriteString("Ты волшебный рассказчик сказок. ")
	b.WriteString(fmt.Sprintf("Создай %s %s", p.Length.phrase(), p.Theme.phrase()))
	if p.Topic != "" {
		b.WriteString(" о " + p.Topic)
	}
	b.WriteString(".\n")
	b.WriteString("Сказка должна быть подходящей для детей 4-10 лет, содержать начало, середину и конец, иметь поучительный смысл.\n")
	if !p.NoMoral {
		moral := p.Moral
		if named, ok := FindMoraleByName(moral); ok {
			moral = named.Description
		}
		if moral == "" {
			if picked := GetRandomMorales(1, GetAvailableStoryMorales()); len(picked) > 0 {
				moral = picked[0].Description
			}
		}
		b.WriteString("Мораль сказки: " + moral + "\n")
	}
	b.WriteString("Придумай одного или двух главных героев с именами.\n")
	b.WriteString("Оформляй абзацы и диалоги правильно. Используй яркие описания для возможности создания иллюстраций.\n")
	b.WriteString("Отвечай только текстом сказки, без заголовков, разметки и эмодзи.")
	return b.String()
}

func (p Params) Messages() []Message {
	return []Message{{Role: "user", Content: p.Prompt()}}
}

type ImagePosition string

const (
	PositionBeginning ImagePosition = "beginning"
	PositionMiddle    ImagePosition = "middle"
	PositionEnd       ImagePosition = "end"
)

type Image struct {
	Position    ImagePosition `json:"position"`
	Prompt      string        `json:"prompt"`
	URL         string        `json:"url"`
	Provider    string        `json:"provider,omitempty"`
	Placeholder bool          `json:"placeholder,omitempty"`
}

// Tale is a finished generation as saved by the CLI.
type Tale struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Params    Params        `json:"params"`
	Text      string        `json:"text"`
	Subtitles []string      `json:"subtitles"`
	Images    []Image       `json:"images"`
	AudioFile string        `json:"audio_file,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

func (t *Tale) ToJson() string {
	return utils.ToJsonStr(t)
}

const maxTitleRunes = 80

// Title picks a heading for a story: its first line when that looks like a
// title, otherwise its first words.
func Title(text string) string {
	text = strings.TrimSpace(RemoveEmojis(text))
	if text == "" {
		return ""
	}

	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimSpace(first)
	if first != "" && utf8.RuneCountInString(first) <= maxTitleRunes && !strings.ContainsAny(first[len(first)-1:], ".!?") {
		return strings.Trim(first, "\"«» ")
	}

	words := strings.Fields(first)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,!?:;")
}
