package pipeline

import (
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
)

type Phase string

const (
	PhaseInitial          Phase = "initial"
	PhaseGeneratingStory  Phase = "generating_story"
	PhaseGeneratingImages Phase = "generating_images"
	PhaseGeneratingAudio  Phase = "generating_audio"
	PhaseReady            Phase = "ready"
	PhaseReading          Phase = "reading"
)

// Stage names the asynchronous step a result belongs to.
type Stage string

const (
	StageStory  Stage = "story"
	StageImages Stage = "images"
	StageAudio  Stage = "audio"
)

// phase is the phase a stage runs in.
func (s Stage) phase() Phase {
	switch s {
	case StageStory:
		return PhaseGeneratingStory
	case StageImages:
		return PhaseGeneratingImages
	default:
		return PhaseGeneratingAudio
	}
}

// MaxImages is the number of illustrations requested per story.
const MaxImages = 3

// Notice is a dismissible record of an absorbed image or audio failure.
type Notice struct {
	ID    int           `json:"id"`
	Stage Stage         `json:"stage"`
	Error apierr.Record `json:"error"`
}

// Reading is the playback position while in PhaseReading.
type Reading struct {
	Session  int    `json:"session"`
	Subtitle int    `json:"subtitle"`
	Caption  string `json:"caption"`
	Image    int    `json:"image"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// State is the pipeline state of one session. Only the orchestrator loop mutates it.
type State struct {
	Phase         Phase          `json:"phase"`
	Params        story.Params   `json:"params"`
	Story         string         `json:"story"`
	Partial       string         `json:"partial,omitempty"` // story text streamed so far
	Subtitles     []string       `json:"subtitles"`
	Images        []story.Image  `json:"images"`
	AudioRef      string         `json:"audioRef,omitempty"`
	AudioDuration time.Duration  `json:"audioDuration,omitempty"`
	Error         *apierr.Record `json:"error,omitempty"`
	RetryCount    int            `json:"retryCount"`
	Notices       []Notice       `json:"notices"`
	Reading       *Reading       `json:"reading,omitempty"`
	InFlight      bool           `json:"inFlight"`
}

func initialState(params story.Params) State {
	return State{
		Phase:     PhaseInitial,
		Params:    params,
		Subtitles: []string{},
		Images:    []story.Image{},
		Notices:   []Notice{},
	}
}

// ImageURLs lists the image URLs in position order.
func (s State) ImageURLs() []string {
	urls := make([]string, 0, len(s.Images))
	for _, img := range s.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

func (s State) clone() State {
	c := s
	c.Subtitles = append([]string{}, s.Subtitles...)
	c.Images = append([]story.Image{}, s.Images...)
	c.Notices = append([]Notice{}, s.Notices...)
	if s.Error != nil {
		rec := *s.Error
		c.Error = &rec
	}
	if s.Reading != nil {
		r := *s.Reading
		c.Reading = &r
	}
	return c
}
