package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// WithEnv overlays values from the environment. Variables that are not set
// keep the value they already have.
//
// Recognised variables are listed by Describe. The most common ones:
//
//	CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY, CLOUDINARY_API_SECRET
//	CLOUDINARY_BASE_URL   - hosting API, e.g. http://localhost:9090 for the media host
//	UPLOAD_MAX_FILE_SIZE  - e.g. "11MB"
//	DATABASE_URL          - "memory" (default) or "postgresql://..."
//	STORAGE_URL           - "memory://", "file:///path/to/data" or "s3://bucket?region=us-east-1"
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// WithDotEnv loads variables from the given files into the process
// environment before WithEnv reads them. Missing files are ignored and
// variables that are already set win.
func WithDotEnv(files ...string) Option {
	return func(c *Config) error {
		for _, f := range files {
			if err := godotenv.Load(f); err != nil && !isNotExist(err) {
				return fmt.Errorf("failed to load %s: %w", f, err)
			}
		}
		return nil
	}
}

// Describe returns a human readable list of the environment variables.
func Describe() (string, error) {
	header := "Environment variables:"
	return cleanenv.GetDescription(&Config{}, &header)
}
