package pkg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/config"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/pipeline"
	"github.com/andrejsstepanovs/fairytale/pkg/playback"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
	"github.com/andrejsstepanovs/fairytale/pkg/utils"
	"github.com/andrejsstepanovs/fairytale/pkg/web"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
)

var (
	phaseColor  = color.New(color.FgCyan, color.Bold)
	warnColor   = color.New(color.FgYellow)
	doneColor   = color.New(color.FgGreen, color.Bold)
	offsetColor = color.New(color.FgHiBlack)
)

// NewCommands loads the configuration and returns the CLI sub-commands.
func NewCommands() ([]*cobra.Command, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel)

	return []*cobra.Command{
		newServeCommand(cfg),
		newCreateCommand(cfg),
		newSubtitlesCommand(cfg),
		newStatusCommand(cfg),
	}, nil
}

func newServeCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := web.NewServer(cfg, NewGateways(cfg), web.WithLogger(logging.L()))
			go func() {
				<-ctx.Done()
				if err := srv.Shutdown(); err != nil {
					logging.L().Error("shutdown failed", "error", err)
				}
			}()
			return srv.Listen()
		},
	}
}

func newStatusCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check provider availability",
		RunE: func(_ *cobra.Command, _ []string) error {
			srv := web.NewServer(cfg, NewGateways(cfg), web.WithLogger(logging.L()), web.WithoutAccessLog())
			out, err := prettyjson.Marshal(srv.Status(true))
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

func newCreateCommand(cfg config.Config) *cobra.Command {
	var (
		theme   string
		length  string
		voice   string
		moral   string
		noMoral bool
		output  string
	)

	cmd := &cobra.Command{
		Use:   "create [topic...]",
		Short: "Generate a tale with illustrations and narration",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := story.Params{
				Theme:   story.Theme(theme),
				Length:  story.Length(length),
				Topic:   strings.Join(args, " "),
				Moral:   moral,
				NoMoral: noMoral,
			}
			if err := params.Validate(); err != nil {
				return err
			}
			v, err := story.ParseVoice(voice)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tale, err := create(ctx, cfg, params, v, output)
			if err != nil {
				return err
			}
			printPlan(tale)
			return nil
		},
	}

	cmd.Flags().StringVar(&theme, "theme", string(story.DefaultTheme), "tale theme")
	cmd.Flags().StringVar(&length, "length", string(story.DefaultLength), "tale length")
	cmd.Flags().StringVar(&voice, "voice", cfg.TTSVoice, "narration voice")
	cmd.Flags().StringVar(&moral, "moral", "", "moral text or the name of a known moral, random when empty")
	cmd.Flags().BoolVar(&noMoral, "no-moral", false, "do not ask for a moral")
	cmd.Flags().StringVarP(&output, "output", "o", cfg.OutputDir, "directory for the tale json and mp3")
	return cmd
}

// create runs one pipeline to Ready and saves what it produced.
func create(ctx context.Context, cfg config.Config, params story.Params, voice story.Voice, dir string) (story.Tale, error) {
	gw := NewGateways(cfg)
	audio := pipeline.NewAudioStore()
	o := pipeline.New(pipeline.Deps{
		Story:  gw.Story,
		Images: gw.Images,
		Speech: gw.Speech,
		Runner: fallback.NewRunner(fallback.PolicyFromConfig(cfg), fallback.NewHealthCache(cfg.HealthFailures), logging.L()),
		Audio:  audio,
		Clock:  playback.RealClock{},
		Logger: logging.L(),
	}, pipeline.Options{
		Voice:             voice,
		ImageStageTimeout: cfg.ImageStageTimeout,
		RotationInterval:  cfg.RotationInterval,
		WordDuration:      cfg.WordDuration,
	})
	defer func() { _ = o.Close() }()

	updates, unsubscribe, err := o.Subscribe()
	if err != nil {
		return story.Tale{}, err
	}
	defer unsubscribe()

	if err := o.Submit(params); err != nil {
		return story.Tale{}, err
	}
	state, err := awaitReady(ctx, updates)
	if err != nil {
		return story.Tale{}, err
	}
	for _, n := range state.Notices {
		warnColor.Printf("! %s: %s\n", n.Stage, n.Error.Message)
	}

	tale := story.Tale{
		ID:        uuid.NewString(),
		Title:     story.Title(state.Story),
		Params:    state.Params.WithDefaults(),
		Text:      state.Story,
		Subtitles: state.Subtitles,
		Images:    state.Images,
		Duration:  state.AudioDuration,
		CreatedAt: time.Now().UTC(),
	}
	if tale.Duration == 0 {
		tale.Duration = utils.EstimateDuration(tale.Text, cfg.WordDuration)
	}

	if a, ok := audio.Get(state.AudioRef); ok {
		file, err := utils.SaveToFile(dir, tale.Title, "mp3", a.Data)
		if err != nil {
			return tale, err
		}
		tale.AudioFile = file
		doneColor.Printf("audio saved to %s\n", file)
	}

	file, err := utils.SaveTextToFile(dir, tale.Title, "json", tale.ToJson())
	if err != nil {
		return tale, err
	}
	doneColor.Printf("tale saved to %s\n", file)
	return tale, nil
}

// awaitReady prints progress until the pipeline settles in Ready. A story
// failure ends the wait since nothing after it can run.
func awaitReady(ctx context.Context, updates <-chan pipeline.Update) (pipeline.State, error) {
	var phase pipeline.Phase
	for {
		select {
		case <-ctx.Done():
			return pipeline.State{}, ctx.Err()
		case u, open := <-updates:
			if !open {
				return pipeline.State{}, pipeline.ErrClosed
			}
			if u.Chunk != "" {
				fmt.Print(u.Chunk)
				continue
			}
			st := u.State
			if st.Phase != phase {
				if phase == pipeline.PhaseGeneratingStory {
					fmt.Println()
				}
				phase = st.Phase
				phaseColor.Printf("== %s\n", phase)
			}
			if st.InFlight {
				continue
			}
			if st.Phase == pipeline.PhaseGeneratingStory && st.Error != nil {
				return st, fmt.Errorf("story generation failed (%s): %s", st.Error.Class, st.Error.Message)
			}
			if st.Phase == pipeline.PhaseReady {
				return st, nil
			}
		}
	}
}

func newSubtitlesCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "subtitles <file.json>",
		Short: "Print the subtitle timing of a saved tale",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := utils.LoadTextFromFile(args[0])
			if err != nil {
				return err
			}
			var tale story.Tale
			if err := json.Unmarshal(data, &tale); err != nil {
				return fmt.Errorf("parse tale: %w", err)
			}
			if len(tale.Subtitles) == 0 {
				tale.Subtitles = story.Subtitles(tale.Text)
			}
			if tale.Duration == 0 {
				tale.Duration = utils.EstimateDuration(tale.Text, cfg.WordDuration)
			}
			printPlan(tale)
			return nil
		},
	}
}

func printPlan(tale story.Tale) {
	phaseColor.Printf("%s (%s)\n", tale.Title, formatOffset(tale.Duration))
	for i, at := range playback.Plan(len(tale.Subtitles), tale.Duration) {
		offsetColor.Printf("[%s] ", formatOffset(at))
		fmt.Println(tale.Subtitles[i])
	}
}

func formatOffset(d time.Duration) string {
	d = d.Round(time.Millisecond)
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	return fmt.Sprintf("%02d:%02d.%03d", minutes, seconds, d/time.Millisecond)
}
