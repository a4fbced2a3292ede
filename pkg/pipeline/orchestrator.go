// Package pipeline sequences story, image and speech generation for one
// session and drives reading mode once the artifacts exist.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/ai"
	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/image"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/playback"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/andrejsstepanovs/fairytale/pkg/tts"
)

var (
	ErrBusy            = errors.New("pipeline is busy")
	ErrNotReady        = errors.New("reading needs audio and subtitles")
	ErrNothingToRetry  = errors.New("nothing to retry")
	ErrUnknownNotice   = errors.New("unknown notice")
	ErrClosed          = errors.New("pipeline is closed")
	errSubscriberLimit = errors.New("too many subscribers")
)

type StoryGenerator interface {
	Generate(ctx context.Context, runner *fallback.Runner, req ai.Request, onChunk func(string), onRetry func(fallback.RetryEvent)) (string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, runner *fallback.Runner, req image.Request, onRetry func(fallback.RetryEvent)) (image.Result, error)
}

type SpeechGenerator interface {
	Generate(ctx context.Context, runner *fallback.Runner, req tts.Request, onRetry func(fallback.RetryEvent)) (tts.Audio, error)
}

// Deps are the collaborators of an orchestrator. Runner carries the
// session's provider health cache.
type Deps struct {
	Story  StoryGenerator
	Images ImageGenerator
	Speech SpeechGenerator
	Runner *fallback.Runner
	Audio  *AudioStore
	Clock  playback.Clock
	Logger *slog.Logger
}

type Options struct {
	Voice             story.Voice
	ImageSize         string
	ImageStageTimeout time.Duration
	RotationInterval  time.Duration
	WordDuration      time.Duration
}

func DefaultOptions() Options {
	return Options{
		Voice:             story.DefaultVoice,
		ImageStageTimeout: 3 * time.Minute,
		RotationInterval:  8 * time.Second,
		WordDuration:      250 * time.Millisecond,
	}
}

// Update is pushed to subscribers after every accepted change. Cue is set
// when the change is a playback cue.
type Update struct {
	State State           `json:"state"`
	Cue   *playback.Event `json:"cue,omitempty"`
	Chunk string          `json:"chunk,omitempty"`
}

const (
	inboxSize      = 64
	subscriberSize = 64
	maxSubscribers = 32
)

type command struct {
	apply func() error
	reply chan error
}

type stageResult struct {
	stage  Stage
	run    int
	text   string
	images []story.Image
	errs   []error
	audio  tts.Audio
	err    error
}

type retryNotice struct {
	stage Stage
	run   int
}

type storyChunk struct {
	run   int
	chunk string
}

type playbackCue struct {
	event playback.Event
}

// Orchestrator owns one session's State. A single goroutine applies
// commands and stage results in arrival order.
type Orchestrator struct {
	deps      Deps
	opts      Options
	logger    *slog.Logger
	scheduler *playback.Scheduler

	inbox chan any
	done  chan struct{}
	ctx   context.Context
	stop  context.CancelFunc

	// Fields below are owned by the loop goroutine.
	state       State
	run         int
	cancelStage context.CancelFunc
	subscribers map[int]chan Update
	nextSub     int
	nextNotice  int
	closed      bool
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Audio == nil {
		deps.Audio = NewAudioStore()
	}
	if deps.Clock == nil {
		deps.Clock = playback.RealClock{}
	}
	if deps.Runner == nil {
		deps.Runner = fallback.NewRunner(fallback.DefaultPolicy(), fallback.NewHealthCache(3), deps.Logger)
	}
	if opts.ImageStageTimeout <= 0 {
		opts.ImageStageTimeout = DefaultOptions().ImageStageTimeout
	}
	if opts.Voice == "" {
		opts.Voice = story.DefaultVoice
	}

	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		deps:        deps,
		opts:        opts,
		logger:      logging.Or(deps.Logger, "pipeline.Orchestrator"),
		inbox:       make(chan any, inboxSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		stop:        stop,
		state:       initialState(story.Params{}.WithDefaults()),
		subscribers: make(map[int]chan Update),
	}

	schedOpts := []playback.Option{playback.WithLogger(deps.Logger)}
	if opts.RotationInterval > 0 {
		schedOpts = append(schedOpts, playback.WithInterval(opts.RotationInterval))
	}
	if opts.WordDuration > 0 {
		schedOpts = append(schedOpts, playback.WithWordDuration(opts.WordDuration))
	}
	o.scheduler = playback.NewScheduler(deps.Clock, func(e playback.Event) {
		o.post(playbackCue{event: e})
	}, schedOpts...)

	go o.loop()
	return o
}

// Audio exposes the store holding this session's narration.
func (o *Orchestrator) Audio() *AudioStore {
	return o.deps.Audio
}

func (o *Orchestrator) loop() {
	for {
		select {
		case <-o.done:
			return
		case msg := <-o.inbox:
			o.handle(msg)
		}
	}
}

func (o *Orchestrator) handle(msg any) {
	switch m := msg.(type) {
	case command:
		if o.closed {
			m.reply <- ErrClosed
			return
		}
		m.reply <- m.apply()
	case stageResult:
		o.applyResult(m)
	case retryNotice:
		if !o.current(m.stage, m.run) {
			return
		}
		o.state.RetryCount++
		o.publish(Update{})
	case storyChunk:
		if !o.current(StageStory, m.run) {
			return
		}
		o.state.Partial += m.chunk
		o.publish(Update{Chunk: m.chunk})
	case playbackCue:
		o.applyCue(m.event)
	}
}

// post delivers a message from a worker goroutine. It gives up once the
// orchestrator is closed.
func (o *Orchestrator) post(msg any) {
	select {
	case o.inbox <- msg:
	case <-o.done:
	}
}

// exec runs fn on the loop goroutine and waits for its result.
func (o *Orchestrator) exec(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case o.inbox <- command{apply: fn, reply: reply}:
	case <-o.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrClosed
	}
}

func (o *Orchestrator) current(stage Stage, run int) bool {
	return run == o.run && o.state.Phase == stage.phase() && o.state.InFlight
}

func (o *Orchestrator) setPhase(p Phase) {
	if o.state.Phase == p {
		return
	}
	o.logger.Info("phase transition", "from", o.state.Phase, "to", p)
	o.state.Phase = p
}

// Submit starts a new pipeline run with params. The params are kept even
// when generation fails so the same request can be retried.
func (o *Orchestrator) Submit(params story.Params) error {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return apierr.Wrap(apierr.ValidationError, "pipeline", err)
	}
	return o.exec(func() error {
		if o.state.Phase != PhaseInitial {
			return ErrBusy
		}
		o.state.Params = params
		o.state.Error = nil
		o.state.RetryCount = 0
		o.setPhase(PhaseGeneratingStory)
		o.startStory()
		o.publish(Update{})
		return nil
	})
}

// Retry re-issues the failed stage with the same parameters. A failed story
// is retried from PhaseGeneratingStory; missing narration from PhaseReady.
// Providers whose pre-flight check failed are checked again.
func (o *Orchestrator) Retry() error {
	return o.exec(func() error {
		switch {
		case o.state.InFlight:
			return ErrBusy
		case o.state.Phase == PhaseGeneratingStory && o.state.Error != nil:
			o.state.Error = nil
			o.state.RetryCount++
			o.recheckUnavailable()
			o.startStory()
		case o.state.Phase == PhaseReady && o.state.AudioRef == "":
			o.state.RetryCount++
			o.recheckUnavailable()
			o.setPhase(PhaseGeneratingAudio)
			o.startAudio()
		default:
			return ErrNothingToRetry
		}
		o.publish(Update{})
		return nil
	})
}

// recheckUnavailable lets providers that failed their pre-flight check be
// probed again by the next run.
func (o *Orchestrator) recheckUnavailable() {
	if o.deps.Runner.Health != nil {
		o.deps.Runner.Health.InvalidateUnavailable()
	}
}

// RecheckHealth drops every cached provider check of this session.
func (o *Orchestrator) RecheckHealth() {
	if o.deps.Runner.Health != nil {
		o.deps.Runner.Health.InvalidateAll()
	}
}

// ProviderHealth lists the provider checks cached for this session.
func (o *Orchestrator) ProviderHealth() []fallback.ProviderHealth {
	if o.deps.Runner.Health == nil {
		return []fallback.ProviderHealth{}
	}
	return o.deps.Runner.Health.Snapshot()
}

// Reset returns to PhaseInitial from any phase. In-flight work is cancelled
// and its late results are ignored.
func (o *Orchestrator) Reset() error {
	return o.exec(func() error {
		o.reset()
		o.publish(Update{})
		return nil
	})
}

func (o *Orchestrator) reset() {
	o.run++
	if o.cancelStage != nil {
		o.cancelStage()
		o.cancelStage = nil
	}
	o.scheduler.Stop()
	o.releaseAudio()
	o.setPhase(PhaseInitial)
	o.state = initialState(o.state.Params)
}

func (o *Orchestrator) releaseAudio() {
	if o.state.AudioRef == "" {
		return
	}
	if o.deps.Audio.Release(o.state.AudioRef) {
		o.logger.Debug("audio released", "handle", o.state.AudioRef)
	}
	o.state.AudioRef = ""
	o.state.AudioDuration = 0
}

// StartReading enters reading mode. It needs narration and at least one subtitle.
func (o *Orchestrator) StartReading() error {
	return o.exec(func() error {
		if o.state.Phase != PhaseReady && o.state.Phase != PhaseReading {
			return ErrNotReady
		}
		if o.state.AudioRef == "" || len(o.state.Subtitles) == 0 {
			return ErrNotReady
		}
		session, initial := o.scheduler.Start(o.state.Subtitles, o.state.AudioDuration, o.state.ImageURLs())
		o.state.Reading = &Reading{Session: session}
		o.setPhase(PhaseReading)
		o.publish(Update{})
		for i := range initial {
			o.applyCue(initial[i])
		}
		return nil
	})
}

// StopReading leaves reading mode before the narration ends.
func (o *Orchestrator) StopReading() error {
	return o.exec(func() error {
		if o.state.Phase != PhaseReading {
			return ErrNotReady
		}
		o.leaveReading()
		return nil
	})
}

// AudioEnded reports that the client finished playing the narration.
func (o *Orchestrator) AudioEnded() error {
	return o.StopReading()
}

func (o *Orchestrator) leaveReading() {
	o.scheduler.Stop()
	o.state.Reading = nil
	o.setPhase(PhaseReady)
	o.publish(Update{})
}

func (o *Orchestrator) DismissNotice(id int) error {
	return o.exec(func() error {
		for i, n := range o.state.Notices {
			if n.ID == id {
				o.state.Notices = append(o.state.Notices[:i], o.state.Notices[i+1:]...)
				o.publish(Update{})
				return nil
			}
		}
		return ErrUnknownNotice
	})
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() (State, error) {
	var st State
	err := o.exec(func() error {
		st = o.state.clone()
		return nil
	})
	return st, err
}

// PlaybackPending reports the live reading-mode timers.
func (o *Orchestrator) PlaybackPending() playback.Pending {
	return o.scheduler.Pending()
}

// Subscribe registers for state updates. The first update is the current
// state. Slow subscribers are dropped and their channel closed.
func (o *Orchestrator) Subscribe() (<-chan Update, func(), error) {
	var (
		id int
		ch chan Update
	)
	err := o.exec(func() error {
		if len(o.subscribers) >= maxSubscribers {
			return errSubscriberLimit
		}
		id = o.nextSub
		o.nextSub++
		ch = make(chan Update, subscriberSize)
		ch <- Update{State: o.state.clone()}
		o.subscribers[id] = ch
		return nil
	})
	if err != nil {
		return nil, func() {}, err
	}
	cancel := func() {
		_ = o.exec(func() error {
			if c, ok := o.subscribers[id]; ok {
				delete(o.subscribers, id)
				close(c)
			}
			return nil
		})
	}
	return ch, cancel, nil
}

func (o *Orchestrator) publish(u Update) {
	u.State = o.state.clone()
	for id, ch := range o.subscribers {
		select {
		case ch <- u:
		default:
			o.logger.Warn("dropping slow subscriber", "subscriber", id)
			delete(o.subscribers, id)
			close(ch)
		}
	}
}

// Close cancels all work, releases narration and stops the loop.
func (o *Orchestrator) Close() error {
	err := o.exec(func() error {
		if o.closed {
			return ErrClosed
		}
		o.closed = true
		o.reset()
		for id, ch := range o.subscribers {
			delete(o.subscribers, id)
			close(ch)
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.stop()
	close(o.done)
	return nil
}

func (o *Orchestrator) applyCue(e playback.Event) {
	if o.state.Phase != PhaseReading || o.state.Reading == nil || e.Session != o.state.Reading.Session {
		o.logger.Debug("stale playback cue", "session", e.Session, "kind", e.Kind)
		return
	}
	switch e.Kind {
	case playback.EventSubtitle:
		o.state.Reading.Subtitle = e.Index
		o.state.Reading.Caption = e.Text
	case playback.EventImage:
		o.state.Reading.Image = e.Index
		o.state.Reading.ImageURL = e.URL
	case playback.EventEnd:
		o.leaveReading()
		return
	}
	cue := e
	o.publish(Update{Cue: &cue})
}
