package config

import (
	"sync"
	"time"
)

var (
	llmOnce   sync.Once
	llmConfig *LLMConfig
)

// LLMConfig 选择视觉模型提供方: "openai" 或 "ollama"
type LLMConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	OllamaEndpoint string
	OllamaModel    string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
}

func GetLLMConfig() *LLMConfig {
	llmOnce.Do(func() {
		loadEnv()
		llmConfig = &LLMConfig{
			Provider:       getEnv("LLM_PROVIDER", "openai"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o"),
			OllamaEndpoint: getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
			OllamaModel:    getEnv("OLLAMA_MODEL", "llama3.2-vision"),
			MaxTokens:      getEnvInt("LLM_MAX_TOKENS", 8192),
			Temperature:    getEnvFloat("LLM_TEMPERATURE", 0.1),
			Timeout:        getEnvDuration("LLM_TIMEOUT", 5*time.Minute),
		}
	})
	return llmConfig
}
