// Package replicate runs text-to-image predictions on Replicate.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"icarus/internal/models"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL      = "https://api.replicate.com/v1"
	DefaultPollInterval = time.Second

	maxResponseBytes = 4 << 20
)

// Fixed inference parameters sent with every prediction.
const (
	NegativePrompt = "A bad quality image with distorded features"
	Scheduler      = "K_EULER_ANCESTRAL"
	InferenceSteps = 50
	GuidanceScale  = 7.5
	PromptStrength = 0.8
	Refine         = "no_refiner"
	HighNoiseFrac  = 0.8
)

type Input struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Scheduler         string  `json:"scheduler"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	PromptStrength    float64 `json:"prompt_strength"`
	Refine            string  `json:"refine"`
	HighNoiseFrac     float64 `json:"high_noise_frac"`
}

func NewInput(req models.GenerationRequest) Input {
	return Input{
		Prompt:            req.ComposedPrompt(),
		NegativePrompt:    NegativePrompt,
		Width:             req.Width,
		Height:            req.Height,
		Scheduler:         Scheduler,
		NumInferenceSteps: InferenceSteps,
		GuidanceScale:     GuidanceScale,
		PromptStrength:    PromptStrength,
		Refine:            Refine,
		HighNoiseFrac:     HighNoiseFrac,
	}
}

type Options struct {
	BaseURL string
	// Model is "owner/name" for the latest version or "owner/name:version".
	Model        string
	HTTPClient   *http.Client
	Timeout      time.Duration
	PollInterval time.Duration
}

type Client struct {
	httpClient   *http.Client
	baseURL      string
	model        string
	pollInterval time.Duration
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Client{
		httpClient:   client,
		baseURL:      base,
		model:        strings.TrimSpace(opts.Model),
		pollInterval: interval,
	}
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

func (p *prediction) terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled", "aborted":
		return true
	}
	return false
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Generate runs a single prediction and blocks until it reaches a terminal
// state. The request is not retried.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest, apiKey string) Result {
	if c == nil {
		return failure(&Error{Reason: ReasonService, Message: "client not configured"})
	}
	token := strings.TrimSpace(apiKey)
	if token == "" {
		return failure(&Error{Reason: ReasonAuth, Message: "API key is missing"})
	}
	if c.model == "" {
		return failure(&Error{Reason: ReasonService, Message: "model endpoint is missing"})
	}

	endpoint, payload := c.createRequest(NewInput(req))
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(&Error{Reason: ReasonMalformed, Message: "encode request", Err: err})
	}

	pred, rerr := c.do(ctx, http.MethodPost, endpoint, body, token)
	for rerr == nil && !pred.terminal() {
		next := pred.URLs.Get
		if next == "" {
			if pred.ID == "" {
				rerr = &Error{Reason: ReasonMalformed, Message: fmt.Sprintf("prediction in status %q has no id", pred.Status)}
				break
			}
			next = c.baseURL + "/predictions/" + pred.ID
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return failure(&Error{Reason: ReasonTransport, Message: "prediction wait cancelled", Err: ctx.Err()})
		case <-timer.C:
		}

		pred, rerr = c.do(ctx, http.MethodGet, next, nil, token)
	}
	if rerr != nil {
		return failure(rerr)
	}

	if pred.Status != "succeeded" {
		msg := fmt.Sprintf("prediction %s", pred.Status)
		if pred.Error != nil {
			msg = fmt.Sprintf("prediction %s: %v", pred.Status, pred.Error)
		}
		return failure(&Error{Reason: ReasonService, Message: msg})
	}

	urls, perr := parseOutput(pred.Output)
	if perr != nil {
		return failure(perr)
	}
	return Result{URLs: urls}
}

func (c *Client) createRequest(input Input) (string, map[string]any) {
	name, version, hasVersion := strings.Cut(c.model, ":")
	if hasVersion {
		return c.baseURL + "/predictions", map[string]any{"version": version, "input": input}
	}
	if !strings.Contains(name, "/") {
		// bare version id
		return c.baseURL + "/predictions", map[string]any{"version": name, "input": input}
	}
	return c.baseURL + "/models/" + name + "/predictions", map[string]any{"input": input}
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, token string) (*prediction, *Error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "wait")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Reason: ReasonTransport, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		reason := ReasonService
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			reason = ReasonAuth
		}
		msg := fmt.Sprintf("http %d", resp.StatusCode)
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			msg = apiErr.Detail
		}
		return nil, &Error{Reason: reason, StatusCode: resp.StatusCode, Message: msg}
	}

	var pred prediction
	if err := json.Unmarshal(data, &pred); err != nil {
		return nil, &Error{Reason: ReasonMalformed, StatusCode: resp.StatusCode, Message: "decode prediction", Err: err}
	}
	return &pred, nil
}

// parseOutput accepts a list of URLs or a single URL string.
func parseOutput(raw json.RawMessage) ([]string, *Error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []string{}, nil
	}

	var urls []string
	if err := json.Unmarshal(trimmed, &urls); err == nil {
		return urls, nil
	}

	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		if single == "" {
			return []string{}, nil
		}
		return []string{single}, nil
	}

	return nil, &Error{Reason: ReasonMalformed, Message: "unexpected prediction output", Err: errors.New(string(trimmed))}
}
