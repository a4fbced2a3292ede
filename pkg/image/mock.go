package image

import (
	"context"
	"sync"
)

// Mock implements Provider for tests. GenerateFunc defaults to a fixed URL.
type Mock struct {
	ProviderName string
	GenerateFunc func(ctx context.Context, req Request) (string, error)
	HealthFunc   func(ctx context.Context) error

	mu      sync.Mutex
	prompts []string
}

func NewMock(name string) *Mock {
	return &Mock{
		ProviderName: name,
		GenerateFunc: func(ctx context.Context, req Request) (string, error) {
			return "https://images.example/" + name + ".png", nil
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

func (m *Mock) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()
	return m.GenerateFunc(ctx, req)
}

// Prompts returns the prompts received so far.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
