package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
)

type OllamaConfig struct {
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OllamaResponse 定义 Ollama API 响应结构
type OllamaResponse struct {
	Response        string `json:"response"`
	Model           string `json:"model"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

type OllamaClient struct {
	endpoint    string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      logger.Logger
}

func NewOllamaClient(cfg OllamaConfig, log logger.Logger) *OllamaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OllamaClient{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log.Named("ollama"),
	}
}

func (c *OllamaClient) Model() string { return c.model }

func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	images := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		data, err := c.imageBytes(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("failed to load page %d image: %w", img.PageNumber, err)
		}
		if len(data) > 0 {
			images = append(images, base64.StdEncoding.EncodeToString(data))
		}
	}

	temperature := c.temperature
	if req.Temperature != 0 {
		temperature = float64(req.Temperature)
	}
	maxTokens := c.maxTokens
	if req.MaxTokens != 0 {
		maxTokens = req.MaxTokens
	}

	reqBody := map[string]interface{}{
		"model":  c.model,
		"system": req.SystemPrompt,
		"prompt": req.UserPrompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}
	if len(images) > 0 {
		reqBody["images"] = images
	}
	if req.JSONMode {
		reqBody["format"] = "json"
	}

	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", result.Error)
	}
	if strings.TrimSpace(result.Response) == "" {
		return nil, ErrEmptyResponse
	}

	metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(result.PromptEvalCount))
	metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(result.EvalCount))

	return &CompletionResponse{
		Content: result.Response,
		Usage: Usage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
	}, nil
}

// Ollama only accepts inline images, so hosted pages are fetched.
func (c *OllamaClient) imageBytes(ctx context.Context, img models.PageImage) ([]byte, error) {
	if len(img.Data) > 0 {
		return img.Data, nil
	}
	if img.URL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
