package providers

import "fmt"

// Message is the provider-agnostic chat message representation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageInfo reports token accounting from the upstream gateway.
type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is a non-2xx response from the upstream gateway. Rate and payment
// errors (429/402) must reach the caller with their original status so the
// chat surface can relay them verbatim.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway request failed: status=%d error=%s", e.StatusCode, e.Message)
}
