package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(content string) string {
	return fmt.Sprintf("data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", content)
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Жил-был ", "кролик."} {
			_, _ = w.Write([]byte(sseChunk(c)))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	var chunks []string
	text, err := NewOpenAI("sk-test", server.URL, "").Stream(context.Background(), storyRequest(), func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "Жил-был кролик.", text)
	assert.Equal(t, []string{"Жил-был ", "кролик."}, chunks)
}

func TestOpenAIStreamRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests"}}`))
	}))
	defer server.Close()

	_, err := NewOpenAI("sk-test", server.URL, "").Stream(context.Background(), storyRequest(), nil)
	require.Error(t, err)
	assert.Equal(t, apierr.RateLimited, apierr.Classify(err).Class)
}
