package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string            `yaml:"env" env:"APP_ENV" env-default:"local" json:"env"`
	Database    DatabaseConfig    `yaml:"database" json:"-"`
	HTTPServer  HTTPServer        `yaml:"http_server" json:"-"`
	App         AppConfig         `yaml:"app" json:"app"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Attachments AttachmentsConfig `yaml:"attachments" json:"attachments"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DATABASE_DRIVER" env-default:"pgx"`
	DSN    string `yaml:"dsn" env:"DATABASE_URL" env-required:"true"`
}

type AppConfig struct {
	BaseURL string `yaml:"base_url" env:"APP_BASE_URL" json:"base_url"`
}

// StorageConfig is read once at startup and never mutated. Keys are json:"-" so the
// config endpoint cannot leak them.
type StorageConfig struct {
	Kind           string        `yaml:"kind" env:"STORAGE_KIND" env-default:"signed_s3" json:"kind"`
	Endpoint       string        `yaml:"endpoint" env:"S3_ENDPOINT" json:"endpoint"`
	Region         string        `yaml:"region" env:"S3_REGION" env-default:"us-east-1" json:"region"`
	Bucket         string        `yaml:"bucket" env:"S3_BUCKET" json:"bucket"`
	AccessKey      string        `yaml:"access_key" env:"S3_ACCESS_KEY" json:"-"`
	SecretKey      string        `yaml:"secret_key" env:"S3_SECRET_KEY" json:"-"`
	ForcePathStyle bool          `yaml:"force_path_style" env:"S3_FORCE_PATH_STYLE" env-default:"true" json:"force_path_style"`
	PublicDomain   string        `yaml:"public_domain" env:"STORAGE_PUBLIC_DOMAIN" json:"public_domain"`
	KeyPrefix      string        `yaml:"key_prefix" env:"STORAGE_KEY_PREFIX" env-default:"attachments/" json:"key_prefix"`
	PresignTTL     time.Duration `yaml:"presign_ttl" env:"STORAGE_PRESIGN_TTL" env-default:"15m" json:"presign_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"STORAGE_REQUEST_TIMEOUT" env-default:"30s" json:"request_timeout"`
}

type AttachmentsConfig struct {
	PurgeBatchSize int   `yaml:"purge_batch_size" env:"ATTACHMENTS_PURGE_BATCH_SIZE" env-default:"99" json:"purge_batch_size"`
	MaxBatchBytes  int64 `yaml:"max_batch_bytes" env:"ATTACHMENTS_MAX_BATCH_BYTES" env-default:"33554432" json:"max_batch_bytes"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8082"`
	Timeout     time.Duration `yaml:"timeout" env-default:"15s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// AdminToken opens the internal routes; they reject every request while it is empty.
	AdminToken string `yaml:"admin_token" env:"ADMIN_TOKEN"`
}

const (
	StorageNative   = "native"
	StorageSignedS3 = "signed_s3"
	StorageMemory   = "memory"
)

func (s StorageConfig) Validate() error {
	switch s.Kind {
	case StorageMemory:
		return nil
	case StorageNative:
		if s.Bucket == "" || s.Region == "" {
			return errors.New("storage: native backend needs bucket and region")
		}
		return nil
	case StorageSignedS3:
		if s.Endpoint == "" || s.Bucket == "" {
			return errors.New("storage: signed_s3 backend needs endpoint and bucket")
		}
		if s.AccessKey == "" || s.SecretKey == "" {
			return errors.New("storage: signed_s3 backend needs access_key and secret_key")
		}
		return nil
	}
	return fmt.Errorf("storage: unknown kind %q", s.Kind)
}

// Load reads the YAML file at path, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: config file %s: %w", op, path, err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: read config: %w", op, err)
	}

	if err := cfg.Storage.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.Attachments.PurgeBatchSize <= 0 {
		return nil, fmt.Errorf("%s: attachments.purge_batch_size must be positive", op)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot load config: %s", err)
	}

	return cfg
}
