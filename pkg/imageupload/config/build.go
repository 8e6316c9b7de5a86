package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/hostclient"
	"github.com/tendant/simple-imageupload/pkg/imageupload/mediahost"
	repomemory "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/repo/memory"
	repopg "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/repo/postgres"
	fsstorage "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/storage/fs"
	memorystorage "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/storage/memory"
	s3storage "github.com/tendant/simple-imageupload/pkg/imageupload/mediahost/storage/s3"
	"github.com/tendant/simple-imageupload/pkg/imageupload/signer"
	"github.com/tendant/simple-imageupload/pkg/imageupload/uploader"
)

// Signer builds the signature service. A missing secret yields a signer
// that reports ErrConfiguration on use.
func (c *Config) Signer() *signer.Signer {
	return signer.New(
		signer.WithSecret(c.Cloudinary.APISecret),
		signer.WithAlgorithm(c.Upload.Algorithm),
	)
}

// Validator builds the file validator.
func (c *Config) Validator() imageupload.Validator {
	v := imageupload.DefaultValidator()
	v.MaxSize = int64(c.Upload.MaxFileSize)
	return v
}

// ResourceIDPolicy returns the configured public id policy.
func (c *Config) ResourceIDPolicy() imageupload.ResourceIDPolicy {
	p, ok := imageupload.ParseResourceIDPolicy(c.Upload.ResourceIDPolicy)
	if !ok {
		return imageupload.FilenameResourceID()
	}
	return p
}

// UploaderOptions returns the orchestrator options derived from the config.
func (c *Config) UploaderOptions() []uploader.Option {
	return []uploader.Option{
		uploader.WithValidator(c.Validator()),
		uploader.WithResourceIDPolicy(c.ResourceIDPolicy()),
		uploader.WithTransformSpec(c.Upload.Eager),
		uploader.WithTransferTimeout(c.Upload.TransferTimeout),
		uploader.WithSignatureTimeout(c.Upload.SignatureTimeout),
	}
}

// HostClient builds the transfer client for the hosting API.
func (c *Config) HostClient(httpClient *http.Client) (*hostclient.Client, error) {
	opts := []hostclient.Option{hostclient.WithBaseURL(c.Cloudinary.BaseURL)}
	if httpClient != nil {
		opts = append(opts, hostclient.WithHTTPClient(httpClient))
	}
	return hostclient.New(c.Cloudinary.CloudName, c.Cloudinary.APIKey, opts...)
}

// MediaHostServerConfig returns the media host server configuration.
func (c *Config) MediaHostServerConfig() mediahost.Config {
	publicURL := c.MediaHost.PublicURL
	if publicURL == "" {
		publicURL = "http://localhost:" + c.MediaHost.Port
	}
	return mediahost.Config{
		CloudName:       c.Cloudinary.CloudName,
		APIKey:          c.Cloudinary.APIKey,
		APISecret:       c.Cloudinary.APISecret,
		PublicURL:       publicURL,
		MaxFileSize:     int64(c.Upload.MaxFileSize),
		SignatureMaxAge: c.MediaHost.SignatureMaxAge,
		Algorithm:       c.Upload.Algorithm,
		CacheSize:       c.MediaHost.CacheSize,
	}
}

type storageSpec struct {
	kind string // "memory", "fs", "s3"
	fs   fsstorage.Config
	s3   s3storage.Config
}

// parseStorageURL parses STORAGE_URL.
//
//	memory://
//	file:///path/to/data
//	s3://bucket?region=us-east-1&endpoint=http://localhost:9000&prefix=media&path_style=true&create_bucket=true
func parseStorageURL(raw string) (storageSpec, error) {
	if raw == "" || raw == "memory" || raw == "memory://" {
		return storageSpec{kind: "memory"}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return storageSpec{}, fmt.Errorf("invalid STORAGE_URL: %w", err)
	}

	switch u.Scheme {
	case "file":
		dir := u.Host + u.Path
		if dir == "" {
			return storageSpec{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return storageSpec{kind: "fs", fs: fsstorage.Config{BaseDir: dir}}, nil

	case "s3":
		if u.Host == "" {
			return storageSpec{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		q := u.Query()
		cfg := s3storage.Config{
			Bucket:   u.Host,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
			Prefix:   q.Get("prefix"),
		}
		if v := q.Get("path_style"); v != "" {
			cfg.UsePathStyle, err = strconv.ParseBool(v)
			if err != nil {
				return storageSpec{}, fmt.Errorf("invalid path_style in STORAGE_URL: %w", err)
			}
		}
		if v := q.Get("create_bucket"); v != "" {
			cfg.CreateBucketIfNotExist, err = strconv.ParseBool(v)
			if err != nil {
				return storageSpec{}, fmt.Errorf("invalid create_bucket in STORAGE_URL: %w", err)
			}
		}
		if cfg.Region == "" {
			cfg.Region = os.Getenv("AWS_REGION")
		}
		cfg.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
		cfg.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		return storageSpec{kind: "s3", s3: cfg}, nil
	}

	return storageSpec{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

// BuildBlobStore creates the media host blob store from STORAGE_URL.
func (c *Config) BuildBlobStore(ctx context.Context) (mediahost.BlobStore, error) {
	spec, err := parseStorageURL(c.MediaHost.StorageURL)
	if err != nil {
		return nil, err
	}
	switch spec.kind {
	case "fs":
		return fsstorage.New(spec.fs)
	case "s3":
		return s3storage.New(ctx, spec.s3)
	default:
		return memorystorage.New(), nil
	}
}

// BuildRepository creates the media host asset repository from
// DATABASE_URL. The returned close function releases the connection pool.
func (c *Config) BuildRepository(ctx context.Context) (mediahost.Repository, func(), error) {
	dbType, err := c.databaseType()
	if err != nil {
		return nil, nil, err
	}
	if dbType == "memory" {
		return repomemory.New(), func() {}, nil
	}

	pool, err := NewPool(ctx, c.MediaHost.DatabaseURL, c.MediaHost.DBSchema)
	if err != nil {
		return nil, nil, err
	}
	repo := repopg.NewWithPool(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo, pool.Close, nil
}

// NewPool opens a pgx pool and, when schema is set, points every session's
// search_path at it.
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
