package config

import (
	"fmt"
	"time"
)

// WithPort sets the API port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *Config) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithCloudinary sets the hosting account credentials
func WithCloudinary(cloudName, apiKey, apiSecret string) Option {
	return func(c *Config) error {
		c.Cloudinary.CloudName = cloudName
		c.Cloudinary.APIKey = apiKey
		c.Cloudinary.APISecret = apiSecret
		return nil
	}
}

// WithHostingBaseURL points uploads at a different hosting API, such as the
// local media host.
func WithHostingBaseURL(baseURL string) Option {
	return func(c *Config) error {
		if baseURL == "" {
			return fmt.Errorf("hosting base URL cannot be empty")
		}
		c.Cloudinary.BaseURL = baseURL
		return nil
	}
}

// WithMaxFileSize sets the upload size limit in bytes
func WithMaxFileSize(n int64) Option {
	return func(c *Config) error {
		c.Upload.MaxFileSize = ByteSize(n)
		return nil
	}
}

// WithResourceIDPolicy selects how public ids are derived
func WithResourceIDPolicy(policy string) Option {
	return func(c *Config) error {
		c.Upload.ResourceIDPolicy = policy
		return nil
	}
}

// WithTimeouts sets the signature and transfer timeouts
func WithTimeouts(signature, transfer time.Duration) Option {
	return func(c *Config) error {
		c.Upload.SignatureTimeout = signature
		c.Upload.TransferTimeout = transfer
		return nil
	}
}

// WithDatabaseURL sets the media host database ("memory" or a postgres URL)
func WithDatabaseURL(dbURL, schema string) Option {
	return func(c *Config) error {
		c.MediaHost.DatabaseURL = dbURL
		c.MediaHost.DBSchema = schema
		return nil
	}
}

// WithStorageURL sets the media host blob storage
func WithStorageURL(storageURL string) Option {
	return func(c *Config) error {
		if _, err := parseStorageURL(storageURL); err != nil {
			return err
		}
		c.MediaHost.StorageURL = storageURL
		return nil
	}
}
