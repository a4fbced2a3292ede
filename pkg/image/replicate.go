package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andrejsstepanovs/fairytale/pkg/apierr"
	"github.com/andrejsstepanovs/fairytale/pkg/logging"
)

const negativePrompt = "poorly drawn, bad anatomy, wrong anatomy, extra limb, missing limb, floating limbs, disconnected limbs, mutation, mutated, ugly, disgusting, blurry, out of focus"

// Replicate runs a Stable Diffusion prediction through the Replicate HTTP API.
type Replicate struct {
	Token        string
	BaseURL      string
	Version      string
	Client       *http.Client
	PollInterval time.Duration
	logger       *slog.Logger
}

func NewReplicate(token, baseURL, version string) *Replicate {
	return &Replicate{
		Token:        token,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Version:      version,
		Client:       &http.Client{},
		PollInterval: time.Second,
		logger:       logging.Component("image.replicate"),
	}
}

func (r *Replicate) Name() string {
	return "replicate"
}

func (r *Replicate) Health(ctx context.Context) error {
	if r.Token == "" {
		return apierr.ErrNoAPIKey
	}
	return nil
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (r *Replicate) Generate(ctx context.Context, req Request) (string, error) {
	if r.Token == "" {
		return "", apierr.ErrNoAPIKey
	}

	body := map[string]any{
		"version": r.Version,
		"input": map[string]any{
			"prompt":              req.Prompt,
			"negative_prompt":     negativePrompt,
			"width":               768,
			"height":              768,
			"num_inference_steps": 25,
			"guidance_scale":      7.5,
			"scheduler":           "K_EULER",
			"num_outputs":         1,
		},
	}
	reqBodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/v1/predictions", bytes.NewReader(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Prefer", "wait")

	p, err := r.do(httpReq)
	if err != nil {
		return "", err
	}

	for !finished(p.Status) {
		if p.URLs.Get == "" {
			return "", apierr.New(apierr.Unknown, r.Name(), "prediction "+p.ID+" has no poll url")
		}
		r.logger.Debug("prediction pending", "id", p.ID, "status", p.Status)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.PollInterval):
		}

		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URLs.Get, nil)
		if err != nil {
			return "", fmt.Errorf("failed to create HTTP request: %w", err)
		}
		if p, err = r.do(pollReq); err != nil {
			return "", err
		}
	}

	if p.Status != "succeeded" {
		return "", apierr.New(apierr.ServerError, r.Name(), fmt.Sprintf("prediction %s %s: %v", p.ID, p.Status, p.Error))
	}
	return firstOutput(p.Output)
}

func (r *Replicate) do(req *http.Request) (prediction, error) {
	req.Header.Set("Authorization", "Bearer "+r.Token)

	resp, err := r.Client.Do(req)
	if err != nil {
		return prediction{}, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return prediction{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		r.logger.Warn("API request failed", "status", resp.StatusCode, "body", string(respBody))
		return prediction{}, apierr.FromStatus(r.Name(), resp.StatusCode, string(respBody))
	}

	var p prediction
	if err := json.Unmarshal(respBody, &p); err != nil {
		return prediction{}, apierr.Wrap(apierr.Unknown, r.Name(), fmt.Errorf("decode prediction: %w", err))
	}
	return p, nil
}

func finished(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	default:
		return false
	}
}

// firstOutput accepts either a list of URLs or a single URL.
func firstOutput(raw json.RawMessage) (string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 && list[0] != "" {
			return list[0], nil
		}
		return "", apierr.Wrap(apierr.Unknown, "replicate", ErrNoImageURL)
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	return "", apierr.Wrap(apierr.Unknown, "replicate", ErrNoImageURL)
}
