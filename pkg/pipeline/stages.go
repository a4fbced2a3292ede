package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/andrejsstepanovs/fairytale/pkg/ai"
	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/image"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/andrejsstepanovs/fairytale/pkg/tts"
	"github.com/sourcegraph/conc"
)

// begin opens a new run for stage and returns its context.
func (o *Orchestrator) begin(stage Stage) (context.Context, int) {
	o.run++
	if o.cancelStage != nil {
		o.cancelStage()
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if stage == StageImages {
		ctx, cancel = context.WithTimeout(o.ctx, o.opts.ImageStageTimeout)
	} else {
		ctx, cancel = context.WithCancel(o.ctx)
	}
	o.cancelStage = cancel
	o.state.InFlight = true
	return ctx, o.run
}

func (o *Orchestrator) onRetry(stage Stage, run int) func(fallback.RetryEvent) {
	return func(fallback.RetryEvent) {
		o.post(retryNotice{stage: stage, run: run})
	}
}

func (o *Orchestrator) startStory() {
	ctx, run := o.begin(StageStory)
	o.state.Partial = ""
	req := ai.RequestFor(o.state.Params)
	o.logger.Info("generating story", "run", run, "theme", o.state.Params.Theme, "length", o.state.Params.Length)

	go func() {
		onChunk := func(chunk string) {
			o.post(storyChunk{run: run, chunk: chunk})
		}
		text, err := o.deps.Story.Generate(ctx, o.deps.Runner, req, onChunk, o.onRetry(StageStory, run))
		if err == nil && strings.TrimSpace(text) == "" {
			err = apierr.Wrap(apierr.ValidationError, "pipeline", apierr.ErrEmptyResult)
		}
		o.post(stageResult{stage: StageStory, run: run, text: text, err: err})
	}()
}

func (o *Orchestrator) startImages() {
	ctx, run := o.begin(StageImages)
	prompts := story.ImagePrompts(o.state.Story)
	size := o.opts.ImageSize

	go func() {
		var (
			slots [MaxImages]*story.Image
			errs  [MaxImages]error
			wg    conc.WaitGroup
		)
		for i, p := range prompts {
			wg.Go(func() {
				res, err := o.deps.Images.Generate(ctx, o.deps.Runner, image.Request{Prompt: p.Prompt, Size: size}, o.onRetry(StageImages, run))
				if err != nil {
					errs[i] = err
					return
				}
				slots[i] = &story.Image{
					Position:    p.Position,
					Prompt:      res.Prompt,
					URL:         res.URL,
					Provider:    res.Provider,
					Placeholder: res.Placeholder,
				}
			})
		}
		wg.Wait()

		images := make([]story.Image, 0, MaxImages)
		failures := make([]error, 0, MaxImages)
		for i := range slots {
			if slots[i] != nil {
				images = append(images, *slots[i])
			}
			if errs[i] != nil {
				failures = append(failures, errs[i])
			}
		}
		o.post(stageResult{stage: StageImages, run: run, images: images, errs: failures})
	}()
}

func (o *Orchestrator) startAudio() {
	ctx, run := o.begin(StageAudio)
	req := tts.Request{Text: o.state.Story, Voice: string(o.opts.Voice)}

	go func() {
		audio, err := o.deps.Speech.Generate(ctx, o.deps.Runner, req, o.onRetry(StageAudio, run))
		o.post(stageResult{stage: StageAudio, run: run, audio: audio, err: err})
	}()
}

func (o *Orchestrator) applyResult(r stageResult) {
	if !o.current(r.stage, r.run) {
		o.logger.Debug("discarding stale result", "stage", r.stage, "run", r.run, "current_run", o.run, "phase", o.state.Phase)
		return
	}
	o.state.InFlight = false
	if o.cancelStage != nil {
		o.cancelStage()
		o.cancelStage = nil
	}

	switch r.stage {
	case StageStory:
		o.finishStory(r)
	case StageImages:
		o.finishImages(r)
	case StageAudio:
		o.finishAudio(r)
	}
	o.publish(Update{})
}

func (o *Orchestrator) finishStory(r stageResult) {
	o.state.Partial = ""
	if r.err != nil {
		rec := apierr.Classify(r.err)
		o.state.Error = &rec
		o.logger.Warn("story generation failed", "class", rec.Class, "error", r.err)
		return
	}
	o.state.Story = r.text
	o.state.Subtitles = story.Subtitles(r.text)
	o.state.Error = nil
	o.state.RetryCount = 0
	o.setPhase(PhaseGeneratingImages)
	o.startImages()
}

func (o *Orchestrator) finishImages(r stageResult) {
	o.state.Images = r.images
	for _, err := range r.errs {
		o.notice(StageImages, err)
	}
	o.logger.Info("images generated", "count", len(r.images), "failed", len(r.errs))
	o.state.RetryCount = 0
	o.setPhase(PhaseGeneratingAudio)
	o.startAudio()
}

func (o *Orchestrator) finishAudio(r stageResult) {
	if r.err != nil {
		o.notice(StageAudio, r.err)
	} else {
		o.releaseAudio()
		o.state.AudioRef = o.deps.Audio.Put(r.audio)
		o.state.AudioDuration = r.audio.Duration
		o.state.RetryCount = 0
	}
	o.setPhase(PhaseReady)
}

func (o *Orchestrator) notice(stage Stage, err error) {
	rec := apierr.Classify(err)
	if errors.Is(err, context.DeadlineExceeded) {
		o.logger.Warn("stage timed out", "stage", stage)
	}
	o.logger.Warn("absorbed failure", "stage", stage, "class", rec.Class, "error", err)
	o.nextNotice++
	o.state.Notices = append(o.state.Notices, Notice{ID: o.nextNotice, Stage: stage, Error: rec})
}
