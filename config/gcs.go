package config

import (
	"sync"
)

var (
	gcsOnce   sync.Once
	gcsConfig *GCSConfig
)

type GCSConfig struct {
	BucketName      string
	CredentialsFile string
	// SignerEmail overrides the service account used for V4 signing.
	SignerEmail string
}

func GetGCSConfig() *GCSConfig {
	gcsOnce.Do(func() {
		loadEnv()
		gcsConfig = &GCSConfig{
			BucketName:      getEnv("GCS_BUCKET_NAME", "plans"),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			SignerEmail:     getEnv("GCS_SIGNER_EMAIL", ""),
		}
	})
	return gcsConfig
}
