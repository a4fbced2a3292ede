// Package playback times subtitle segments and illustration changes against
// a narration track.
package playback

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/utils"
)

type EventKind string

const (
	EventSubtitle EventKind = "subtitle"
	EventImage    EventKind = "image"
	EventEnd      EventKind = "end"
)

// Event is one cue of a running schedule. Session identifies the Start call
// that produced it.
type Event struct {
	Kind    EventKind     `json:"kind"`
	Index   int           `json:"index"`
	Text    string        `json:"text,omitempty"`
	URL     string        `json:"url,omitempty"`
	At      time.Duration `json:"at"`
	Session int           `json:"session"`
}

// Plan returns the display offset of every subtitle segment: segment i shows
// at (duration/n)*i. Segment length is not taken into account.
func Plan(n int, duration time.Duration) []time.Duration {
	if n <= 0 {
		return []time.Duration{}
	}
	avg := duration / time.Duration(n)
	offsets := make([]time.Duration, n)
	for i := range offsets {
		offsets[i] = avg * time.Duration(i)
	}
	return offsets
}

type Pending struct {
	Subtitles int  `json:"subtitles"`
	Rotation  bool `json:"rotation"`
	End       bool `json:"end"`
}

func (p Pending) Empty() bool {
	return p.Subtitles == 0 && !p.Rotation && !p.End
}

type Scheduler struct {
	clock        Clock
	interval     time.Duration
	wordDuration time.Duration
	onEvent      func(Event)
	logger       *slog.Logger

	mu        sync.Mutex
	session   int
	running   bool
	started   time.Time
	subtitles map[int]Timer
	rotation  Timer
	end       Timer
	images    []string
	image     int
	scheduled int
}

type Option func(*Scheduler)

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithWordDuration(d time.Duration) Option {
	return func(s *Scheduler) { s.wordDuration = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.Or(l, "playback.scheduler") }
}

// NewScheduler creates a scheduler that reports cues to onEvent. onEvent runs
// on clock callbacks and must not block.
func NewScheduler(clock Clock, onEvent func(Event), opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:        clock,
		interval:     8 * time.Second,
		wordDuration: 250 * time.Millisecond,
		onEvent:      onEvent,
		logger:       logging.Component("playback.scheduler"),
		subtitles:    make(map[int]Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start replaces any running schedule and returns its session. A
// non-positive duration is estimated from the subtitle word count. Segment 0
// and the first image are due immediately; they are returned instead of
// being passed to onEvent.
func (s *Scheduler) Start(subtitles []string, duration time.Duration, images []string) (int, []Event) {
	if duration <= 0 {
		duration = utils.EstimateDuration(strings.Join(subtitles, " "), s.wordDuration)
	}

	s.mu.Lock()
	s.stopLocked()
	s.session++
	session := s.session
	s.running = true
	s.started = s.clock.Now()
	s.images = append([]string(nil), images...)
	s.image = 0

	offsets := Plan(len(subtitles), duration)
	s.scheduled = len(offsets)
	for i := 1; i < len(offsets); i++ {
		i, text, at := i, subtitles[i], offsets[i]
		s.subtitles[i] = s.clock.AfterFunc(at, func() {
			s.fireSubtitle(session, i, text, at)
		})
	}
	if len(s.images) > 0 {
		s.rotation = s.clock.AfterFunc(s.interval, func() { s.rotate(session) })
	}
	s.end = s.clock.AfterFunc(duration, func() { s.finish(session, duration) })
	s.mu.Unlock()

	s.logger.Debug("schedule started", "session", session, "subtitles", len(subtitles), "images", len(images), "duration", duration)

	initial := make([]Event, 0, 2)
	if len(subtitles) > 0 {
		initial = append(initial, Event{Kind: EventSubtitle, Index: 0, Text: subtitles[0], Session: session})
	}
	if len(images) > 0 {
		initial = append(initial, Event{Kind: EventImage, Index: 0, URL: images[0], Session: session})
	}
	return session, initial
}

// Stop cancels every pending timer. Callbacks already in flight are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Debug("schedule stopped", "session", s.session)
	}
	s.stopLocked()
	s.session++
}

func (s *Scheduler) stopLocked() {
	for i, t := range s.subtitles {
		t.Stop()
		delete(s.subtitles, i)
	}
	if s.rotation != nil {
		s.rotation.Stop()
		s.rotation = nil
	}
	if s.end != nil {
		s.end.Stop()
		s.end = nil
	}
	s.running = false
}

func (s *Scheduler) Pending() Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Pending{Subtitles: len(s.subtitles), Rotation: s.rotation != nil, End: s.end != nil}
}

// Scheduled is the number of subtitle segments of the last Start, including
// the one shown immediately.
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) fireSubtitle(session, index int, text string, at time.Duration) {
	s.mu.Lock()
	if session != s.session {
		s.mu.Unlock()
		return
	}
	delete(s.subtitles, index)
	s.mu.Unlock()

	s.emit(Event{Kind: EventSubtitle, Index: index, Text: text, At: at, Session: session})
}

func (s *Scheduler) rotate(session int) {
	s.mu.Lock()
	if session != s.session || len(s.images) == 0 {
		s.mu.Unlock()
		return
	}
	s.image = (s.image + 1) % len(s.images)
	event := Event{Kind: EventImage, Index: s.image, URL: s.images[s.image], At: s.clock.Now().Sub(s.started), Session: session}
	s.rotation = s.clock.AfterFunc(s.interval, func() { s.rotate(session) })
	s.mu.Unlock()

	s.emit(event)
}

func (s *Scheduler) finish(session int, duration time.Duration) {
	s.mu.Lock()
	if session != s.session {
		s.mu.Unlock()
		return
	}
	s.end = nil
	s.stopLocked()
	s.mu.Unlock()

	s.emit(Event{Kind: EventEnd, At: duration, Session: session})
}

func (s *Scheduler) emit(e Event) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}
