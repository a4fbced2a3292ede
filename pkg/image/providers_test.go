package image

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIFallsBackToSecondModel(t *testing.T) {
	var models []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/images/generations", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		models = append(models, body["model"].(string))

		w.Header().Set("Content-Type", "application/json")
		if body["model"] == "dall-e-3" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"created":1,"data":[{"url":"https://oai.example/1.png"}]}`))
	}))
	defer server.Close()

	p := NewOpenAI("sk-test", server.URL)
	url, err := p.Generate(context.Background(), Request{Prompt: "a fox"})
	require.NoError(t, err)
	assert.Equal(t, "https://oai.example/1.png", url)
	assert.Equal(t, []string{"dall-e-3", "dall-e-2"}, models)
}

func TestOpenAINoKey(t *testing.T) {
	p := NewOpenAI("", "")
	assert.ErrorIs(t, p.Health(context.Background()), apierr.ErrNoAPIKey)
	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, apierr.ApiUnavailable, apierr.Classify(err).Class)
}

func TestReplicatePollsUntilSucceeded(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer r8-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/predictions":
			assert.Equal(t, "wait", r.Header.Get("Prefer"))
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "v1", body["version"])
			_, _ = w.Write([]byte(`{"id":"p1","status":"processing","urls":{"get":"` + server.URL + `/v1/predictions/p1"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/p1":
			_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":["https://replicate.example/out.png"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := NewReplicate("r8-test", server.URL, "v1")
	p.PollInterval = time.Millisecond

	url, err := p.Generate(context.Background(), Request{Prompt: "a bear"})
	require.NoError(t, err)
	assert.Equal(t, "https://replicate.example/out.png", url)
}

func TestReplicateStatusClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"throttled"}`))
	}))
	defer server.Close()

	p := NewReplicate("r8-test", server.URL, "v1")
	_, err := p.Generate(context.Background(), Request{Prompt: "a bear"})
	require.Error(t, err)

	rec := apierr.Classify(err)
	assert.Equal(t, apierr.RateLimited, rec.Class)
	assert.Equal(t, "replicate", rec.Provider)
}

func TestReplicateFailedPrediction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"p2","status":"failed","error":"NSFW"}`))
	}))
	defer server.Close()

	_, err := NewReplicate("r8-test", server.URL, "v1").Generate(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, apierr.ServerError, apierr.Classify(err).Class)
}

func TestFirstOutput(t *testing.T) {
	url, err := firstOutput(json.RawMessage(`"https://one.png"`))
	require.NoError(t, err)
	assert.Equal(t, "https://one.png", url)

	_, err = firstOutput(json.RawMessage(`[]`))
	assert.ErrorIs(t, err, ErrNoImageURL)

	_, err = firstOutput(json.RawMessage(`null`))
	assert.ErrorIs(t, err, ErrNoImageURL)
}
