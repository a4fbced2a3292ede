package ai

import (
	"context"
	"strings"
	"sync"
)

// Mock implements Provider for tests. StreamFunc defaults to echoing
// Text in word-sized chunks.
type Mock struct {
	ProviderName string
	Text         string
	StreamFunc   func(ctx context.Context, req Request, onChunk func(string)) (string, error)
	HealthFunc   func(ctx context.Context) error

	mu    sync.Mutex
	calls int
}

func NewMock(name, text string) *Mock {
	m := &Mock{ProviderName: name, Text: text}
	m.StreamFunc = func(ctx context.Context, req Request, onChunk func(string)) (string, error) {
		for _, word := range strings.SplitAfter(m.Text, " ") {
			if onChunk != nil && word != "" {
				onChunk(word)
			}
		}
		return m.Text, nil
	}
	return m
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

func (m *Mock) Stream(ctx context.Context, req Request, onChunk func(string)) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.StreamFunc(ctx, req, onChunk)
}

// Calls reports how many times Stream was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
