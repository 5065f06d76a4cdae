package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zen-systems/taskflow/pkg/artifact"
)

const defaultOllamaBaseURL = "http://localhost:11434/v1"

// OllamaAdapter implements the Adapter interface for local Ollama models.
// Ollama exposes an OpenAI-compatible API under /v1.
type OllamaAdapter struct {
	baseURL    string
	models     []string
	httpClient *http.Client
}

// ollamaRequest represents the OpenAI-compatible request format.
type ollamaRequest struct {
	Model     string          `json:"model"`
	Messages  []ollamaMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

// ollamaMessage represents a chat message.
type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaResponse represents the OpenAI-compatible response format.
type ollamaResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOllamaAdapter creates a new Ollama adapter.
func NewOllamaAdapter(baseURL string, models []string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if len(models) == 0 {
		models = []string{"llama3"}
	}
	return &OllamaAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		models:     models,
		httpClient: &http.Client{},
	}
}

// Name returns the adapter identifier.
func (a *OllamaAdapter) Name() string {
	return "ollama"
}

// Models returns the list of configured Ollama models.
func (a *OllamaAdapter) Models() []string {
	return a.models
}

// Generate sends a prompt to Ollama and returns the response.
func (a *OllamaAdapter) Generate(ctx context.Context, model string, prompt string) (*Response, error) {
	reqBody := ollamaRequest{
		Model: model,
		Messages: []ollamaMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens: 4096,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Temporary: true, Err: fmt.Errorf("ollama request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if ollamaResp.Error != nil {
		return nil, &Error{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("ollama API error: %s (type: %s)", ollamaResp.Error.Message, ollamaResp.Error.Type),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body)),
		}
	}

	if len(ollamaResp.Choices) == 0 {
		return nil, fmt.Errorf("ollama returned no choices")
	}

	content := ollamaResp.Choices[0].Message.Content
	usage := &Usage{
		PromptTokens:     ollamaResp.Usage.PromptTokens,
		CompletionTokens: ollamaResp.Usage.CompletionTokens,
		TotalTokens:      ollamaResp.Usage.TotalTokens,
	}
	return &Response{
		Artifact: artifact.New(content, a.Name(), model, prompt),
		Usage:    usage,
	}, nil
}
