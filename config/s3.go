package config

import (
	"sync"
)

var (
	s3Once   sync.Once
	s3Config *S3Config
)

type S3Config struct {
	BucketName string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	// PublicBaseURL prefixes re-hosted page images, e.g. a CDN in front of the bucket.
	PublicBaseURL string
}

func GetS3Config() *S3Config {
	s3Once.Do(func() {
		loadEnv()
		s3Config = &S3Config{
			BucketName:    getEnv("AWS_S3_BUCKET_NAME", "plans"),
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Endpoint:      getEnv("AWS_ENDPOINT", ""),
			AccessKey:     getEnv("AWS_ACCESS_KEY", ""),
			SecretKey:     getEnv("AWS_SECRET_KEY", ""),
			PublicBaseURL: getEnv("AWS_S3_PUBLIC_BASE_URL", ""),
		}
	})
	return s3Config
}
