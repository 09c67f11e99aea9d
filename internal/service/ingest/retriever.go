package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
	"github.com/feichai0017/plan-takeoff/pkg/retry"
)

var ErrFileTooLarge = errors.New("source file exceeds maximum size")

// URLSigner is the part of storage.Storage the retriever needs.
type URLSigner interface {
	ResolvePath(ref string) (string, error)
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// Retriever downloads stored plan files through short-lived signed URLs.
type Retriever struct {
	signer URLSigner
	client *http.Client
	cfg    config.RetrieverConfig
	logger logger.Logger
}

func NewRetriever(signer URLSigner, cfg config.RetrieverConfig, log logger.Logger) *Retriever {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.Delays) == 0 {
		cfg.Delays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 500 * 1024 * 1024
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = time.Hour
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Minute
	}
	return &Retriever{
		signer: signer,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		cfg:    cfg,
		logger: log.Named("retriever"),
	}
}

// Fetch returns the bytes behind fileRef. Every failed attempt is logged
// once; the last error is returned after the attempts are exhausted.
func (r *Retriever) Fetch(ctx context.Context, fileRef string) ([]byte, error) {
	path, err := r.signer.ResolvePath(fileRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file reference %q: %w", fileRef, err)
	}

	policy := retry.FixedSchedule("download", r.cfg.MaxAttempts, r.cfg.Delays,
		r.logger.With(logger.String("path", path)))

	data, err := retry.DoWithResult(ctx, policy, func(int) ([]byte, error) {
		data, err := r.download(ctx, path)
		if err != nil {
			metrics.DownloadAttempts.WithLabelValues("failure").Inc()
			return nil, err
		}
		metrics.DownloadAttempts.WithLabelValues("success").Inc()
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s after %d attempts: %w", path, r.cfg.MaxAttempts, err)
	}

	r.logger.Info("Downloaded source file",
		logger.String("path", path),
		logger.Int("bytes", len(data)),
	)
	return data, nil
}

func (r *Retriever) download(ctx context.Context, path string) ([]byte, error) {
	url, err := r.signer.SignedURL(ctx, path, r.cfg.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue signed url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > r.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > r.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, r.cfg.MaxBytes)
	}
	return data, nil
}
