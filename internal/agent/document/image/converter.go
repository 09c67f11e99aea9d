package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

type ConverterConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPConverter calls an external PDF-to-image service.
type HTTPConverter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

type convertRequest struct {
	Document []byte `json:"document"`
	DPI      int    `json:"dpi"`
	Format   string `json:"format"`
}

type convertResponse struct {
	Pages []struct {
		Page        int    `json:"page"`
		URL         string `json:"url"`
		Data        []byte `json:"data"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		ContentType string `json:"contentType"`
	} `json:"pages"`
	Error string `json:"error,omitempty"`
}

func NewHTTPConverter(cfg ConverterConfig, log logger.Logger) *HTTPConverter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &HTTPConverter{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: log.Named("converter"),
	}
}

// Enabled reports whether an endpoint is configured.
func (c *HTTPConverter) Enabled() bool {
	return c.endpoint != ""
}

// ToImages returns no pages and no error when the converter is disabled.
func (c *HTTPConverter) ToImages(ctx context.Context, data []byte, dpi int) ([]models.PageImage, error) {
	if !c.Enabled() {
		return nil, nil
	}

	reqData, err := json.Marshal(convertRequest{Document: data, DPI: dpi, Format: "png"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/convert", bytes.NewReader(reqData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("converter error: %s", result.Error)
	}

	images := make([]models.PageImage, 0, len(result.Pages))
	for _, p := range result.Pages {
		img := models.PageImage{
			PageNumber:  p.Page,
			URL:         p.URL,
			Data:        p.Data,
			Width:       p.Width,
			Height:      p.Height,
			DPI:         dpi,
			ContentType: p.ContentType,
		}
		if len(img.Data) > 0 && (img.Width == 0 || img.Height == 0) {
			if cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data)); err == nil {
				img.Width, img.Height = cfg.Width, cfg.Height
				if img.ContentType == "" {
					img.ContentType = "image/" + format
				}
			}
		}
		if !img.Usable() {
			c.logger.Warn("Converter returned an empty page", logger.Int("page", p.Page))
			continue
		}
		images = append(images, img)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].PageNumber < images[j].PageNumber })

	c.logger.Debug("Converted document to images",
		logger.Int("pages", len(images)),
		logger.Int("dpi", dpi),
	)
	return images, nil
}
