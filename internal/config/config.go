package config

import (
	"fmt"

	"portal-backend/internal/dispatch"
	"portal-backend/internal/loader"
	"portal-backend/internal/mailer"
	"portal-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     string `env:"API_PORT" envDefault:"8001"`

	// StorageType selects the shared storage backend, "local" or "s3".
	StorageType     string `env:"STORAGE_TYPE" envDefault:"local"`
	LocalStorageDir string `env:"LOCAL_STORAGE_DIR" envDefault:"./data"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION"`

	Dispatch dispatch.Config
	Mailer   mailer.Config
	Loader   loader.RunnerConfig
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	return &cfg, nil
}

// NewStorageProvider builds the shared storage backend selected by the
// configuration.
func (c *Config) NewStorageProvider() (storage.Provider, error) {
	switch c.StorageType {
	case "s3":
		return storage.NewS3Provider(storage.S3ClientConfig{
			Endpoint:        c.S3EndpointURL,
			Region:          c.S3Region,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
		})
	case "local":
		return storage.NewLocalProvider(c.LocalStorageDir)
	default:
		return nil, fmt.Errorf("unknown storage type %q", c.StorageType)
	}
}
