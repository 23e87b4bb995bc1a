// Package summarizer calls an external summary-generation service for a
// session's transcript once the pipeline has parsed it (spec.md §4.F
// step 5). Shaped like the teacher's external-call wrapper (pkg/llm's
// Client), but HTTP-based rather than gRPC since no generated proto
// stubs can be produced for this module.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Message is a bounded selection of transcript content handed to the
// generator — not the full transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body sent to the summary generator.
type Request struct {
	SessionID       string    `json:"session_id"`
	Messages        []Message `json:"messages"`
	Model           string    `json:"model"`
	Temperature     float64   `json:"temperature"`
	MaxOutputTokens int       `json:"max_output_tokens"`
}

// Result is the generator's response: a short summary plus a cost
// estimate to persist on the session row.
type Result struct {
	Summary         string  `json:"summary"`
	CostEstimateUSD float64 `json:"cost_estimate_usd"`
}

// Generator is the narrow contract the pipeline depends on, so tests can
// substitute a fake without standing up an HTTP server.
type Generator interface {
	Summarize(ctx context.Context, req Request) (Result, error)
}

// Client is an HTTP-backed Generator.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewClient builds a Client pointed at endpoint, authenticating with
// apiKey as a bearer token.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

func (c *Client) Summarize(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("summarizer: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("summarizer: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("summarizer: calling generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("summarizer: generator returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("summarizer: decoding response: %w", err)
	}
	return result, nil
}
