package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/ai"
	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/config"
	"github.com/andrejsstepanovs/fairytale/pkg/fallback"
	"github.com/andrejsstepanovs/fairytale/pkg/image"
	"github.com/andrejsstepanovs/fairytale/pkg/pipeline"
	"github.com/andrejsstepanovs/fairytale/pkg/tts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tale = "Жил-был ежик Колючка. Однажды он встретил в лесу сову! Они подружились навсегда."

type fixture struct {
	server *Server
	story  *ai.Mock
	images *image.Mock
	speech *tts.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg, err := config.FromMap(map[string]string{})
	require.NoError(t, err)
	cfg.StaticDir = ""

	policy := fallback.PolicyFromConfig(cfg)
	policy.BaseDelay = 0
	policy.MaxDelay = 0
	policy.ServerDelay = 0

	f := &fixture{
		story:  ai.NewMock("story-mock", tale),
		images: image.NewMock("image-mock"),
		speech: tts.NewMock("speech-mock"),
	}
	f.server = NewServer(cfg, Gateways{
		Story:  ai.NewGateway([]ai.Provider{f.story}),
		Images: image.NewGateway([]image.Provider{f.images}),
		Speech: tts.NewGateway([]tts.Provider{f.speech}),
	}, WithPolicy(policy), WithoutAccessLog())
	t.Cleanup(func() { f.server.Sessions().CloseAll() })
	return f
}

func (f *fixture) do(t *testing.T, method, target, contentType, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.server.App().Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func (f *fixture) doJSON(t *testing.T, method, target, body string) *http.Response {
	t.Helper()
	return f.do(t, method, target, "application/json", body)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

const storyBody = `{"messages":[{"role":"user","content":"Расскажи сказку"}]}`

func TestStoryStreams(t *testing.T) {
	f := newFixture(t)

	resp := f.doJSON(t, http.MethodPost, "/api/story", storyBody)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Equal(t, tale, readBody(t, resp))
}

func TestStoryWithoutStreaming(t *testing.T) {
	f := newFixture(t)

	resp := f.doJSON(t, http.MethodPost, "/api/story", `{"stream":false,"messages":[{"role":"user","content":"Сказку!"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, tale, body["text"])
}

func TestStoryErrors(t *testing.T) {
	t.Run("no messages", func(t *testing.T) {
		f := newFixture(t)
		resp := f.doJSON(t, http.MethodPost, "/api/story", `{"messages":[]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body := decode[errorResponse](t, resp)
		assert.Equal(t, apierr.ValidationError, body.Classification)
		assert.NotEmpty(t, body.Error)
		assert.Zero(t, f.story.Calls())
	})

	t.Run("server errors before the first chunk", func(t *testing.T) {
		f := newFixture(t)
		f.story.StreamFunc = func(ctx context.Context, req ai.Request, onChunk func(string)) (string, error) {
			return "", apierr.FromStatus("story-mock", http.StatusServiceUnavailable, "overloaded")
		}
		resp := f.doJSON(t, http.MethodPost, "/api/story", storyBody)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		body := decode[errorResponse](t, resp)
		assert.Equal(t, apierr.ServerError, body.Classification)
		assert.True(t, body.Retryable)
		assert.Equal(t, 3, f.story.Calls())
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t)
		resp := f.doJSON(t, http.MethodPost, "/api/story", `{"messages":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestImage(t *testing.T) {
	f := newFixture(t)

	resp := f.doJSON(t, http.MethodPost, "/api/image", `{"prompt":"Ежик в тумане"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[image.Result](t, resp)
	assert.Equal(t, "https://images.example/image-mock.png", body.URL)
	assert.Equal(t, []string{image.Enrich("Ежик в тумане")}, f.images.Prompts())
}

func TestImageFallsBackToPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.images.HealthFunc = func(ctx context.Context) error { return errors.New("down") }

	resp := f.doJSON(t, http.MethodPost, "/api/image", `{"prompt":"Ежик в тумане"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[image.Result](t, resp)
	assert.True(t, body.Placeholder)
	assert.True(t, strings.HasPrefix(body.URL, "https://placehold.co/"))
	assert.Empty(t, f.images.Prompts())
}

func TestImageRejectsInvalidSize(t *testing.T) {
	f := newFixture(t)
	resp := f.doJSON(t, http.MethodPost, "/api/image", `{"prompt":"Ежик","size":"10x10"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpeech(t *testing.T) {
	t.Run("binary", func(t *testing.T) {
		f := newFixture(t)
		resp := f.doJSON(t, http.MethodPost, "/api/speech", `{"text":"Жил-был ежик.","voice":"nova"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))
		assert.Equal(t, string(tts.SilentMP3(38)), readBody(t, resp))
	})

	t.Run("base64 on request", func(t *testing.T) {
		f := newFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/api/speech", strings.NewReader(`{"text":"Жил-был ежик."}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		resp, err := f.server.App().Test(req, 5000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		raw := readBody(t, resp)
		data, mime, err := tts.Decode("application/json", []byte(raw))
		require.NoError(t, err)
		assert.Equal(t, "audio/mpeg", mime)
		assert.Equal(t, tts.SilentMP3(38), data)
	})

	t.Run("unknown voice", func(t *testing.T) {
		f := newFixture(t)
		resp := f.doJSON(t, http.MethodPost, "/api/speech", `{"text":"Жил-был ежик.","voice":"robot"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, f.speech.Texts())
	})
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.speech.HealthFunc = func(ctx context.Context) error { return errors.New("no key") }

	resp := f.do(t, http.MethodGet, "/api/status?refresh=true", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[Status](t, resp)

	assert.False(t, body.Timestamp.IsZero())
	assert.Contains(t, body.KeysConfigured, "openai")
	assert.Equal(t, "binary", body.Environment["speechDelivery"])
	assert.True(t, body.APIStatus["story"]["story-mock"].Available)
	assert.True(t, body.APIStatus["image"]["image-mock"].Available)
	assert.False(t, body.APIStatus["speech"]["speech-mock"].Available)
	assert.Equal(t, "no key", body.APIStatus["speech"]["speech-mock"].Error)
}

func TestSchema(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/schema", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]map[string]any](t, resp)
	require.Contains(t, body, "params")
	props, ok := body["params"]["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "theme")
	assert.Contains(t, props, "length")
	assert.Contains(t, body, "image")
	assert.Contains(t, body, "speech")
}

func TestUnknownAudioHandle(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/audio/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/sessions", "", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[sessionResponse](t, resp)
	require.NotEmpty(t, body.ID)
	assert.Equal(t, pipeline.PhaseInitial, body.State.Phase)
	return body.ID
}

func (f *fixture) waitPhase(t *testing.T, id string, phase pipeline.Phase) pipeline.State {
	t.Helper()
	var st pipeline.State
	require.Eventually(t, func() bool {
		resp := f.do(t, http.MethodGet, "/api/sessions/"+id, "", "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		st = decode[sessionResponse](t, resp).State
		return st.Phase == phase && !st.InFlight
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)
	base := "/api/sessions/" + id

	form := url.Values{"theme": {"о животных"}, "length": {"средняя"}, "topic": {"про ежика"}}
	resp := f.do(t, http.MethodPost, base+"/submit", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	submitted := decode[sessionResponse](t, resp)
	assert.Equal(t, "про ежика", submitted.State.Params.Topic)

	ready := f.waitPhase(t, id, pipeline.PhaseReady)
	assert.Equal(t, tale, ready.Story)
	assert.Len(t, ready.Images, 3)
	require.NotEmpty(t, ready.AudioRef)

	resp = f.do(t, http.MethodGet, "/api/audio/"+ready.AudioRef, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))

	resp = f.do(t, http.MethodPost, base+"/reading/start", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reading := decode[sessionResponse](t, resp).State
	assert.Equal(t, pipeline.PhaseReading, reading.Phase)
	require.NotNil(t, reading.Reading)
	assert.Equal(t, ready.Subtitles[0], reading.Reading.Caption)

	resp = f.do(t, http.MethodPost, base+"/reading/stop", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pipeline.PhaseReady, decode[sessionResponse](t, resp).State.Phase)

	resp = f.do(t, http.MethodPost, base+"/reset", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reset := decode[sessionResponse](t, resp).State
	assert.Equal(t, pipeline.PhaseInitial, reset.Phase)
	assert.Empty(t, reset.Story)
	assert.Equal(t, "про ежика", reset.Params.Topic)

	resp = f.do(t, http.MethodGet, "/api/audio/"+ready.AudioRef, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, base, "", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodGet, base, "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusRefreshRechecksSessions(t *testing.T) {
	f := newFixture(t)
	var healthy atomic.Bool
	f.story.HealthFunc = func(ctx context.Context) error {
		if !healthy.Load() {
			return errors.New("connection refused")
		}
		return nil
	}
	id := f.createSession(t)
	base := "/api/sessions/" + id

	resp := f.doJSON(t, http.MethodPost, base+"/submit", `{"theme":"о дружбе"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	failed := f.waitPhase(t, id, pipeline.PhaseGeneratingStory)
	require.NotNil(t, failed.Error)
	assert.Equal(t, apierr.ApiUnavailable, failed.Error.Class)
	assert.Zero(t, f.story.Calls())

	o, ok := f.server.Sessions().Get(id)
	require.True(t, ok)
	require.NotEmpty(t, o.ProviderHealth())

	healthy.Store(true)
	resp = f.do(t, http.MethodGet, "/api/status?refresh=true", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[Status](t, resp).APIStatus["story"]["story-mock"].Available)
	assert.Empty(t, o.ProviderHealth())

	resp = f.do(t, http.MethodPost, base+"/retry", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ready := f.waitPhase(t, id, pipeline.PhaseReady)
	assert.Equal(t, tale, ready.Story)
	assert.Equal(t, 1, f.story.Calls())
}

func TestSessionConflicts(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	defer close(release)
	f.story.StreamFunc = func(ctx context.Context, req ai.Request, onChunk func(string)) (string, error) {
		<-release
		return tale, nil
	}
	id := f.createSession(t)
	base := "/api/sessions/" + id

	resp := f.doJSON(t, http.MethodPost, base+"/submit", `{"theme":"о дружбе"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.doJSON(t, http.MethodPost, base+"/submit", `{"theme":"о дружбе"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, base+"/reading/start", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.doJSON(t, http.MethodPost, base+"/notices/dismiss", `{"id":42}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionRejectsInvalidForm(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)

	resp := f.doJSON(t, http.MethodPost, "/api/sessions/"+id+"/submit", `{"theme":"грустная"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, apierr.ValidationError, body.Classification)

	resp = f.do(t, http.MethodGet, "/api/sessions/"+id, "", "")
	assert.Equal(t, pipeline.PhaseInitial, decode[sessionResponse](t, resp).State.Phase)
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/sessions/missing/retry", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	id := f.createSession(t)
	resp := f.do(t, http.MethodGet, "/ws/sessions/"+id, "", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
