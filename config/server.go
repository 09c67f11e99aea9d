package config

import (
	"sync"
)

var (
	serverOnce   sync.Once
	serverConfig *ServerConfig
)

type ServerConfig struct {
	Addr         string
	StorageType  string
	PipelineFile string
	LogLevel     string
	AllowOrigins []string
}

func GetServerConfig() *ServerConfig {
	serverOnce.Do(func() {
		loadEnv()
		origins := getEnvList("CORS_ALLOW_ORIGINS")
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		serverConfig = &ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			StorageType:  getEnv("STORAGE_TYPE", "s3"),
			PipelineFile: getEnv("PIPELINE_CONFIG", "config/pipeline.yaml"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			AllowOrigins: origins,
		}
	})
	return serverConfig
}
