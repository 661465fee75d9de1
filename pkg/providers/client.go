package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Streaming chat turns can legitimately run for minutes; blocking pipeline
// calls get their own context timeouts from the caller.
const defaultHTTPTimeout = 300 * time.Second

// Client talks to an OpenAI-compatible chat-completions gateway.
type Client struct {
	apiBase    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewClient(apiBase, apiKey, model, proxy string) (*Client, error) {
	apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("gateway API base not configured")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gateway API key not configured")
	}

	client := &http.Client{Timeout: defaultHTTPTimeout}
	proxy = strings.TrimSpace(proxy)
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse gateway proxy: %w", err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &Client{
		apiBase:    apiBase,
		apiKey:     apiKey,
		model:      strings.TrimSpace(model),
		httpClient: client,
	}, nil
}

func (c *Client) DefaultModel() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Complete issues a single blocking chat call and returns the assistant text.
// Used by the extraction, pattern-detection, and ritual-synthesis stages.
func (c *Client) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	messages := []Message{}
	if strings.TrimSpace(system) != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	messages = append(messages, Message{Role: "user", Content: user})

	body, err := c.do(ctx, messages, temperature, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read gateway response: %w", err)
	}
	return parseCompletionContent(raw)
}

// Stream issues a streaming chat call and returns the raw SSE body. The
// caller relays the bytes untouched and closes the reader to cancel.
func (c *Client) Stream(ctx context.Context, messages []Message, temperature float64) (io.ReadCloser, error) {
	return c.do(ctx, messages, temperature, true)
}

func (c *Client) do(ctx context.Context, messages []Message, temperature float64, stream bool) (io.ReadCloser, error) {
	if c == nil {
		return nil, fmt.Errorf("gateway client not initialized")
	}

	requestBody := map[string]interface{}{
		"model":       c.model,
		"messages":    messages,
		"stream":      stream,
		"temperature": temperature,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	endpoint := c.apiBase + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send gateway request: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: extractAPIError(body)}
	}

	return resp.Body, nil
}

func parseCompletionContent(body []byte) (string, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content interface{} `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *UsageInfo `json:"usage"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("parse gateway response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return "", nil
	}
	return flattenMessageContent(apiResponse.Choices[0].Message.Content), nil
}

func flattenMessageContent(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := m["text"].(string); ok {
				parts = append(parts, text)
				continue
			}
			if content, ok := m["content"].(string); ok {
				parts = append(parts, content)
			}
		}
		return strings.Join(parts, "")
	default:
		return ""
	}
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string      `json:"message"`
			Type    string      `json:"type"`
			Code    interface{} `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}
