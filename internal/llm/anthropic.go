// Package llm provides general-purpose text and JSON completion via the
// Anthropic messages API. Calls are costly and rate-limited; pipelines
// batch work before reaching for them.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// Completer is the completion capability consumed by the pipelines.
type Completer interface {
	Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error)
	CompleteJSON(ctx context.Context, prompt, system string, out any) error
}

// Client calls the Anthropic messages API.
type Client struct {
	apiKey string
	model  string
	client *http.Client
}

// New creates a new completion Client.
func New() (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	return &Client{
		apiKey: apiKey,
		model:  "claude-sonnet-4-20250514",
		client: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Complete sends a prompt and returns the model's text response.
func (c *Client) Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", anthropicAPI, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("api error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return apiResp.Content[0].Text, nil
}

// CompleteJSON sends a prompt and unmarshals the response into out,
// stripping markdown code fences if present.
func (c *Client) CompleteJSON(ctx context.Context, prompt, system string, out any) error {
	raw, err := c.Complete(ctx, prompt, system, 2048)
	if err != nil {
		return err
	}
	return ParseJSON(raw, out)
}

var (
	fenceOpen  = regexp.MustCompile("(?m)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("(?m)```\\s*$")
)

// ParseJSON unmarshals a model response that may be wrapped in markdown
// code fences.
func ParseJSON(raw string, out any) error {
	text := strings.TrimSpace(raw)
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("parse json: %w (response: %s)", err, truncateErr(text))
	}
	return nil
}

func truncateErr(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
