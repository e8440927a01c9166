package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Roles understood by chat completion providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// ChatMessage is one turn of a prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a full prompt plus sampling settings.
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// ChatCompleter turns a multi-turn prompt into the assistant's next reply.
// Every LLM provider (OpenAI, OpenAI-compatible, Ollama) implements it.
type ChatCompleter interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// NewChatCompleter builds the provider named in cfg. Provider defaults to openai.
func NewChatCompleter(cfg Config) (ChatCompleter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai api key required")
		}
		baseURL := cfg.BaseURL
		if strings.TrimSpace(baseURL) == "" {
			baseURL = defaultOpenAIBaseURL
		}
		return NewOpenAICompatGenerator(baseURL, cfg.APIKey, cfg.Model), nil
	case "openai-compat":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("openai-compat base url required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "ollama":
		return NewOllamaGenerator(NewOllamaClient(cfg.BaseURL), cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
