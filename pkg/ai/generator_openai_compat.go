package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o"
)

// OpenAICompatGenerator calls an OpenAI-style /chat/completions endpoint.
// baseURL includes the version prefix, e.g. "https://api.openai.com/v1".
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAICompatGenerator builds a ChatCompleter. apiKey may be empty for
// local servers that skip authentication.
func NewOpenAICompatGenerator(baseURL, apiKey, model string) *OpenAICompatGenerator {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAICompatGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Complete implements ChatCompleter.
func (g *OpenAICompatGenerator) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("openai: at least one message required")
	}
	body, err := json.Marshal(oaiChatRequest{
		Model:       g.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp oaiErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("openai api error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("openai api error: %s", resp.Status)
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("openai decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

type oaiChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
