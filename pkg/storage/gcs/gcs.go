package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	cfg "github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/storage/objectpath"
)

type GCSStorage struct {
	client      *storage.Client
	bucket      *storage.BucketHandle
	bucketName  string
	signerEmail string
	logger      logger.Logger
}

func (g *GCSStorage) ResolvePath(ref string) (string, error) {
	return objectpath.Resolve(ref, g.bucketName)
}

// SignedURL issues a V4 signed GET URL.
func (g *GCSStorage) SignedURL(ctx context.Context, object string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	}
	if g.signerEmail != "" {
		opts.GoogleAccessID = g.signerEmail
	}

	u, err := g.bucket.SignedURL(object, opts)
	if err != nil {
		g.logger.Error("Failed to sign GCS object",
			logger.String("bucket", g.bucketName),
			logger.String("object", object),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to sign object gs://%s/%s: %w", g.bucketName, object, err)
	}
	return u, nil
}

func (g *GCSStorage) Upload(ctx context.Context, object string, data []byte, contentType string) (string, error) {
	w := g.bucket.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write gs://%s/%s: %w", g.bucketName, object, err)
	}
	if err := w.Close(); err != nil {
		g.logger.Error("Failed to upload file to GCS",
			logger.String("bucket", g.bucketName),
			logger.String("object", object),
			logger.Error(err),
		)
		return "", fmt.Errorf("failed to finalize gs://%s/%s: %w", g.bucketName, object, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucketName, object), nil
}

func (g *GCSStorage) Get(ctx context.Context, object string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", g.bucketName, object, err)
	}
	return r, nil
}

func (g *GCSStorage) Delete(ctx context.Context, object string) error {
	if err := g.bucket.Object(object).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", g.bucketName, object, err)
	}
	return nil
}

func NewGCSStorage(ctx context.Context, log logger.Logger) (*GCSStorage, error) {
	gcsConfig := cfg.GetGCSConfig()

	var opts []option.ClientOption
	if gcsConfig.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcsConfig.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	log.Info("GCS Configuration", logger.String("bucket", gcsConfig.BucketName))

	return &GCSStorage{
		client:      client,
		bucket:      client.Bucket(gcsConfig.BucketName),
		bucketName:  gcsConfig.BucketName,
		signerEmail: gcsConfig.SignerEmail,
		logger:      log,
	}, nil
}

func GetClient(ctx context.Context, log logger.Logger) (*GCSStorage, error) {
	return NewGCSStorage(ctx, log)
}
