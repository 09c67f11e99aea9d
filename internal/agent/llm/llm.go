package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

var ErrEmptyResponse = errors.New("model returned no content")

// Completer 视觉模型调用接口
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Model() string
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Images       []models.PageImage
	Temperature  float32
	MaxTokens    int
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewCompleter builds the provider named in cfg.
func NewCompleter(cfg *config.LLMConfig, log logger.Logger) (Completer, error) {
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: float32(cfg.Temperature),
			Timeout:     cfg.Timeout,
		}, log), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			Endpoint:    cfg.OllamaEndpoint,
			Model:       cfg.OllamaModel,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, log), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// imageURL prefers the hosted URL and falls back to a data URL.
func imageURL(img models.PageImage) string {
	if img.URL != "" {
		return img.URL
	}
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
