// Package ai is the client for the external analysis provider — any
// OpenAI-compatible chat-completions endpoint. It sends one system prompt
// (selected by business industry) plus the customer message, and expects a
// strict JSON object back describing the inquiry.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Result is the structured analysis the provider must return.
type Result struct {
	Type           string          `json:"type"`
	Summary        string          `json:"summary"`
	ExtractedInfo  json.RawMessage `json:"extracted_info"`
	Sentiment      string          `json:"sentiment"`
	Urgency        string          `json:"urgency"`
	SuggestedReply string          `json:"suggested_reply"`
	Confidence     float64         `json:"confidence"`
}

// Request carries one analysis call.
type Request struct {
	Industry string
	Language string
	Message  string
}

// Client calls the chat-completions endpoint. Per-call timeouts are owned by
// the circuit breaker wrapper, so the embedded http.Client carries no
// timeout of its own; every request must arrive with a bounded context.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient constructs a Client for the given endpoint and model.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{},
	}
}

// chat-completions wire types (request side).
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Analyze sends the message for analysis and decodes the structured result.
// Any transport, status, or decoding failure is an error; the caller (the
// analysis worker) owns the fallback behavior.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(req.Industry, req.Language)},
			{Role: "user", Content: req.Message},
		},
		Temperature: 0.2,
	}
	body.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ai request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read ai response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai provider returned %d: %s", resp.StatusCode, truncate(string(raw), 256))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode ai response: %w", err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("ai provider error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("ai response has no choices")
	}

	var result Result
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("ai returned non-JSON analysis: %w", err)
	}
	normalize(&result)
	return &result, nil
}

// normalize coerces out-of-vocabulary fields to safe values so a sloppy
// model answer cannot poison the inquiry row.
func normalize(r *Result) {
	switch r.Sentiment {
	case "positive", "neutral", "negative":
	default:
		r.Sentiment = "neutral"
	}
	switch r.Urgency {
	case "low", "medium", "high":
	default:
		r.Urgency = "medium"
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	if r.Type == "" {
		r.Type = "other"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
