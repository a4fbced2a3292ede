package tts

import (
	"bytes"
	"context"
	"sync"

	"github.com/andrejsstepanovs/fairytale/pkg/story"
)

// SilentMP3 returns n silent MPEG-1 Layer III frames (128 kbps, 44.1 kHz),
// about 26ms each.
func SilentMP3(n int) []byte {
	frame := make([]byte, 417)
	copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})
	return bytes.Repeat(frame, n)
}

// Mock implements Provider for tests. SynthesizeFunc defaults to one second
// of silence.
type Mock struct {
	ProviderName   string
	SynthesizeFunc func(ctx context.Context, text string, voice story.Voice) ([]byte, error)
	HealthFunc     func(ctx context.Context) error

	mu    sync.Mutex
	texts []string
}

func NewMock(name string) *Mock {
	return &Mock{
		ProviderName: name,
		SynthesizeFunc: func(ctx context.Context, text string, voice story.Voice) ([]byte, error) {
			return SilentMP3(38), nil
		},
	}
}

func (m *Mock) Name() string {
	return m.ProviderName
}

func (m *Mock) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

func (m *Mock) Synthesize(ctx context.Context, text string, voice story.Voice) ([]byte, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	return m.SynthesizeFunc(ctx, text, voice)
}

// Texts returns the texts received so far.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}
