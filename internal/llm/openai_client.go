package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"otto/internal/agent/ports"
	"otto/internal/logging"
)

// Config holds the settings an adapter needs to reach its backend.
type Config struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// OpenAI-compatible chat completions client.
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

var _ ports.ReasoningClient = (*openaiClient)(nil)

// NewOpenAIClient constructs a reasoning client that speaks the
// OpenAI-compatible chat completions API.
func NewOpenAIClient(config Config, logger logging.Logger) ports.ReasoningClient {
	timeout := 120 * time.Second
	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	return &openaiClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		headers:    config.Headers,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}
}

func (c *openaiClient) ValidateConfig() error {
	if c.model == "" {
		return fmt.Errorf("model name is required")
	}
	if c.baseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	return nil
}

func (c *openaiClient) buildRequest(req ports.ChatRequest, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   stream,
	}
	if req.Options.Temperature > 0 {
		body["temperature"] = req.Options.Temperature
	}
	if req.Options.MaxTokens > 0 {
		body["max_tokens"] = req.Options.MaxTokens
	}
	if req.Options.TopP > 0 {
		body["top_p"] = req.Options.TopP
	}
	if len(req.Options.StopSequences) > 0 {
		body["stop"] = req.Options.StopSequences
	}
	return body
}

func (c *openaiClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	return c.httpClient.Do(httpReq)
}

func (c *openaiClient) Chat(ctx context.Context, req ports.ChatRequest) (*ports.ChatResponse, error) {
	if err := ports.ValidateOptions(req.Options); err != nil {
		return nil, fmt.Errorf("invalid chat options: %w", err)
	}
	c.logger.Debug("llm: POST %s/chat/completions model=%s messages=%d", c.baseURL, c.model, len(req.Messages))

	resp, err := c.post(ctx, "/chat/completions", c.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("llm: error response %d: %s", resp.StatusCode, truncate(string(respBody), 400))
		return nil, fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	choice := oaiResp.Choices[0]
	return &ports.ChatResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: ports.TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}, nil
}

// ChatStream consumes the SSE stream and forwards content deltas. The
// channel closes after the done or error event.
func (c *openaiClient) ChatStream(ctx context.Context, req ports.ChatRequest) (<-chan ports.StreamEvent, error) {
	if err := ports.ValidateOptions(req.Options); err != nil {
		return nil, fmt.Errorf("invalid chat options: %w", err)
	}
	resp, err := c.post(ctx, "/chat/completions", c.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("stream request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("chat completions returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	events := make(chan ports.StreamEvent, 16)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				events <- ports.StreamEvent{Type: ports.StreamEventDone}
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Debug("llm: skipping malformed stream chunk: %v", err)
				continue
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				select {
				case events <- ports.StreamEvent{Type: ports.StreamEventContent, Delta: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			events <- ports.StreamEvent{Type: ports.StreamEventError, Err: err}
			return
		}
		events <- ports.StreamEvent{Type: ports.StreamEventDone}
	}()
	return events, nil
}

func (c *openaiClient) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("models request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("models returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	models := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
