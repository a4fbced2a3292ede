package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
	"github.com/andrejsstepanovs/fairytale/pkg/story"
)

// Remote calls the speech endpoint of another deployment. It understands
// both binary and base64 JSON answers.
type Remote struct {
	URL    string
	Client *http.Client
	logger *slog.Logger
}

func NewRemote(url string) *Remote {
	return &Remote{URL: url, Client: &http.Client{}, logger: logging.Component("tts.remote")}
}

func (r *Remote) Name() string {
	return "remote"
}

// Health treats any answer below 500 as reachable.
func (r *Remote) Health(ctx context.Context) error {
	if r.URL == "" {
		return apierr.New(apierr.ApiUnavailable, r.Name(), "speech url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.ApiUnavailable, r.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return apierr.FromStatus(r.Name(), resp.StatusCode, resp.Status)
	}
	return nil
}

type remoteError struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func (r *Remote) Synthesize(ctx context.Context, text string, voice story.Voice) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(Request{Text: text, Voice: string(voice)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg, application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var payload remoteError
		message := string(body)
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			message = payload.Error
			if payload.Details != "" {
				message += ": " + payload.Details
			}
		}
		r.logger.Warn("API request failed", "status", resp.StatusCode, "message", message)
		return nil, apierr.FromStatus(r.Name(), resp.StatusCode, message)
	}

	data, _, err := Decode(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, apierr.Wrap(apierr.Unknown, r.Name(), err)
	}
	return data, nil
}
