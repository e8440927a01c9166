package ai

import (
	"context"
	"fmt"
	"strings"
)

// OllamaGenerator serves chat completions from a local Ollama /api/chat.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

// NewOllamaGenerator builds an Ollama-backed ChatCompleter.
func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model)}
}

// Complete implements ChatCompleter.
func (g *OllamaGenerator) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("ollama: at least one message required")
	}
	reqBody := ollamaChatRequest{
		Model:    g.model,
		Messages: req.Messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	var resp ollamaChatResponse
	if _, err := g.client.doJSON(ctx, "/api/chat", reqBody, &resp); err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message ChatMessage `json:"message"`
}
