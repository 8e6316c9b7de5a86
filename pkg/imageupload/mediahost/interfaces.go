package mediahost

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores and repositories for missing entries.
var ErrNotFound = errors.New("not found")

// BlobStore holds original images and their derived variants.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
}

// Variant is a derived image generated from an asset.
type Variant struct {
	Transformation string `json:"transformation"`
	ObjectKey      string `json:"object_key"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Bytes          int64  `json:"bytes"`
}

// Asset is the metadata recorded for an uploaded image.
type Asset struct {
	ID               uuid.UUID
	Cloud            string
	PublicID         string
	Version          int64
	Format           string
	ContentType      string
	Width            int
	Height           int
	Bytes            int64
	ObjectKey        string
	OriginalFilename string
	Eager            []Variant
	CreatedAt        time.Time
}

// Repository stores asset metadata. Assets are keyed by cloud and public id;
// saving an asset with an existing key replaces it.
type Repository interface {
	SaveAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, cloud, publicID string) (*Asset, error)
	DeleteAsset(ctx context.Context, cloud, publicID string) error
	ListAssets(ctx context.Context, cloud string) ([]*Asset, error)
}
