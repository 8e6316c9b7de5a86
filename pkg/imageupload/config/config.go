// Package config loads the server and client configuration from defaults,
// functional options and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/signer"
	"github.com/tendant/simple-imageupload/pkg/imageupload/uploader"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:               "3000",
		Environment:        "development",
		LogLevel:           "info",
		CORSAllowedOrigins: []string{"*"},
		Cloudinary: CloudinaryConfig{
			BaseURL: "https://api.cloudinary.com",
		},
		Upload: UploadConfig{
			MaxFileSize:      ByteSize(imageupload.DefaultMaxFileSize),
			Eager:            imageupload.DefaultTransformSpec,
			ResourceIDPolicy: "filename",
			TransferTimeout:  uploader.DefaultTransferTimeout,
			SignatureTimeout: uploader.DefaultSignatureTimeout,
			Algorithm:        signer.AlgorithmSHA1,
			SignatureURL:     "http://localhost:3000",
		},
		MediaHost: MediaHostConfig{
			Port:            "9090",
			DatabaseURL:     "memory",
			StorageURL:      "memory://",
			SignatureMaxAge: time.Hour,
			CacheSize:       256,
		},
	}
}

// Config is the complete configuration of the upload server, the upload
// client and the local media host.
type Config struct {
	Port               string   `env:"PORT" env-description:"HTTP port of the signature and upload API"`
	Environment        string   `env:"ENVIRONMENT" env-description:"development, production or testing"`
	LogLevel           string   `env:"LOG_LEVEL" env-description:"debug, info, warn or error"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-description:"Comma separated origins allowed to call the API"`

	Cloudinary CloudinaryConfig
	Upload     UploadConfig
	MediaHost  MediaHostConfig
}

// CloudinaryConfig identifies the hosting account. The secret is only
// needed where signatures are produced.
type CloudinaryConfig struct {
	CloudName string `env:"CLOUDINARY_CLOUD_NAME" env-description:"Hosting cloud name"`
	APIKey    string `env:"CLOUDINARY_API_KEY" env-description:"Hosting API key"`
	APISecret string `env:"CLOUDINARY_API_SECRET" env-description:"Hosting API secret, server side only"`
	BaseURL   string `env:"CLOUDINARY_BASE_URL" env-description:"Hosting API base URL"`
}

// UploadConfig controls validation, signing and transfer of uploads.
type UploadConfig struct {
	MaxFileSize      ByteSize      `env:"UPLOAD_MAX_FILE_SIZE" env-description:"Largest accepted file, e.g. 11MB"`
	Eager            string        `env:"UPLOAD_EAGER" env-description:"Eager transformations requested with every upload"`
	ResourceIDPolicy string        `env:"UPLOAD_RESOURCE_ID_POLICY" env-description:"filename, fixed or fixed:<id>"`
	TransferTimeout  time.Duration `env:"UPLOAD_TRANSFER_TIMEOUT" env-description:"Upper bound of one transfer"`
	SignatureTimeout time.Duration `env:"UPLOAD_SIGNATURE_TIMEOUT" env-description:"Upper bound of one signature request"`
	Algorithm        string        `env:"SIGNATURE_ALGORITHM" env-description:"sha1 or sha256"`
	SignatureURL     string        `env:"SIGNATURE_SERVICE_URL" env-description:"Base URL of the signature endpoint used by the upload client"`
}

// MediaHostConfig configures the local media host.
type MediaHostConfig struct {
	Port            string        `env:"MEDIAHOST_PORT" env-description:"HTTP port of the media host"`
	PublicURL       string        `env:"MEDIAHOST_PUBLIC_URL" env-description:"Externally visible base URL of the media host"`
	DatabaseURL     string        `env:"DATABASE_URL" env-description:"memory or postgres://..."`
	DBSchema        string        `env:"DB_SCHEMA" env-description:"Postgres search_path for the asset table"`
	StorageURL      string        `env:"STORAGE_URL" env-description:"memory://, file:///path or s3://bucket?region=..."`
	SignatureMaxAge time.Duration `env:"MEDIAHOST_SIGNATURE_MAX_AGE" env-description:"Oldest accepted upload timestamp"`
	CacheSize       int           `env:"MEDIAHOST_CACHE_SIZE" env-description:"Number of delivered images cached in memory"`
}

// ByteSize is a size in bytes that is read from human readable values such
// as "11MB" or plain byte counts.
type ByteSize int64

// SetValue implements cleanenv.Setter.
func (b *ByteSize) SetValue(s string) error {
	n, err := units.FromHumanSize(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	return units.HumanSize(float64(b))
}

// IsDevelopment reports whether the environment is development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	switch c.Environment {
	case "development", "production", "testing":
	default:
		return fmt.Errorf("environment must be 'development', 'production' or 'testing', got: %s", c.Environment)
	}
	if c.Upload.MaxFileSize <= 0 {
		return errors.New("upload max file size must be positive")
	}
	if c.Upload.Algorithm != signer.AlgorithmSHA1 && c.Upload.Algorithm != signer.AlgorithmSHA256 {
		return fmt.Errorf("signature algorithm must be 'sha1' or 'sha256', got: %s", c.Upload.Algorithm)
	}
	if _, ok := imageupload.ParseResourceIDPolicy(c.Upload.ResourceIDPolicy); !ok {
		return fmt.Errorf("unsupported resource id policy: %s (use 'filename', 'fixed' or 'fixed:<id>')", c.Upload.ResourceIDPolicy)
	}
	if c.Upload.TransferTimeout <= 0 || c.Upload.SignatureTimeout <= 0 {
		return errors.New("upload timeouts must be positive")
	}
	if _, err := url.Parse(c.Cloudinary.BaseURL); err != nil || c.Cloudinary.BaseURL == "" {
		return fmt.Errorf("invalid hosting base URL: %q", c.Cloudinary.BaseURL)
	}
	if _, err := c.databaseType(); err != nil {
		return err
	}
	if _, err := parseStorageURL(c.MediaHost.StorageURL); err != nil {
		return err
	}
	return nil
}

func (c *Config) databaseType() (string, error) {
	dbURL := c.MediaHost.DatabaseURL
	switch {
	case dbURL == "" || dbURL == "memory":
		return "memory", nil
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return "postgres", nil
	}
	return "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", dbURL)
}
