package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Role tags for conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ImagePart is one inline image attached to a message, base64-encoded.
type ImagePart struct {
	MimeType string
	Data     string
}

// Message is one role-tagged conversation message, optionally carrying images.
type Message struct {
	Role   string
	Text   string
	Images []ImagePart
}

// Usage reports token counters for a single model call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// ContextLengthError is returned when the endpoint declares the prompt too
// large for the model's context window.
type ContextLengthError struct {
	Model   string
	Message string
}

func (e *ContextLengthError) Error() string {
	return fmt.Sprintf("context length exceeded for %s: %s", e.Model, e.Message)
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type request struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(apiKey, baseURL string, temperature float64, maxTokens int, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Chat sends role-tagged messages to the given model and returns the
// generated text plus usage counters.
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, Usage, error) {
	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Images) == 0 {
			wire = append(wire, wireMessage{Role: m.Role, Content: m.Text})
			continue
		}
		parts := make([]contentPart, 0, len(m.Images)+1)
		if m.Text != "" {
			parts = append(parts, contentPart{Type: "text", Text: m.Text})
		}
		for _, img := range m.Images {
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data)},
			})
		}
		wire = append(wire, wireMessage{Role: m.Role, Content: parts})
	}

	requestBody := request{
		Model:       model,
		Messages:    wire,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", Usage{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp response
	if err := json.Unmarshal(buf.Bytes(), &apiResp); err != nil {
		return "", Usage{}, fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}

	if apiResp.Error != nil {
		if isContextLengthError(apiResp.Error.Code, apiResp.Error.Message) {
			return "", Usage{}, &ContextLengthError{Model: model, Message: apiResp.Error.Message}
		}
		return "", Usage{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	if len(apiResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("no choices in response")
	}

	usage := Usage{
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		TotalTokens:      apiResp.Usage.TotalTokens,
	}
	return apiResp.Choices[0].Message.Content, usage, nil
}

func isContextLengthError(code, message string) bool {
	if code == "context_length_exceeded" {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "context length") || strings.Contains(lower, "maximum context")
}
