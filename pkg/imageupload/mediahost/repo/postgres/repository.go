package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-imageupload/pkg/imageupload/mediahost"
)

// Schema creates the asset table. It is safe to run more than once.
const Schema = `
CREATE TABLE IF NOT EXISTS asset (
	id UUID PRIMARY KEY,
	cloud VARCHAR(255) NOT NULL,
	public_id VARCHAR(1024) NOT NULL,
	version BIGINT NOT NULL,
	format VARCHAR(16) NOT NULL,
	content_type VARCHAR(255) NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	bytes BIGINT NOT NULL DEFAULT 0,
	object_key VARCHAR(2048) NOT NULL,
	original_filename VARCHAR(1024),
	eager JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT unique_cloud_public_id UNIQUE (cloud, public_id)
)`

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements mediahost.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// EnsureSchema creates the asset table if it does not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}

func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - run EnsureSchema first: %w", err)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// SaveAsset inserts the asset, replacing any asset with the same cloud and public id
func (r *Repository) SaveAsset(ctx context.Context, a *mediahost.Asset) error {
	eager, err := json.Marshal(variantsOrEmpty(a.Eager))
	if err != nil {
		return fmt.Errorf("failed to encode eager variants: %w", err)
	}

	query := `
		INSERT INTO asset (
			id, cloud, public_id, version, format, content_type, width, height,
			bytes, object_key, original_filename, eager, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (cloud, public_id) DO UPDATE SET
			id = EXCLUDED.id,
			version = EXCLUDED.version,
			format = EXCLUDED.format,
			content_type = EXCLUDED.content_type,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			bytes = EXCLUDED.bytes,
			object_key = EXCLUDED.object_key,
			original_filename = EXCLUDED.original_filename,
			eager = EXCLUDED.eager,
			created_at = EXCLUDED.created_at`

	_, err = r.db.Exec(ctx, query,
		a.ID, a.Cloud, a.PublicID, a.Version, a.Format, a.ContentType, a.Width, a.Height,
		a.Bytes, a.ObjectKey, a.OriginalFilename, eager, a.CreatedAt)
	if err != nil {
		return r.handlePostgresError("save asset", err)
	}
	return nil
}

const selectAsset = `
	SELECT id, cloud, public_id, version, format, content_type, width, height,
	       bytes, object_key, COALESCE(original_filename, ''), eager, created_at
	FROM asset`

func scanAsset(row pgx.Row) (*mediahost.Asset, error) {
	var a mediahost.Asset
	var eager []byte
	err := row.Scan(&a.ID, &a.Cloud, &a.PublicID, &a.Version, &a.Format, &a.ContentType,
		&a.Width, &a.Height, &a.Bytes, &a.ObjectKey, &a.OriginalFilename, &eager, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(eager, &a.Eager); err != nil {
		return nil, fmt.Errorf("failed to decode eager variants: %w", err)
	}
	if len(a.Eager) == 0 {
		a.Eager = nil
	}
	return &a, nil
}

func (r *Repository) GetAsset(ctx context.Context, cloud, publicID string) (*mediahost.Asset, error) {
	a, err := scanAsset(r.db.QueryRow(ctx, selectAsset+` WHERE cloud = $1 AND public_id = $2`, cloud, publicID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mediahost.ErrNotFound
		}
		return nil, r.handlePostgresError("get asset", err)
	}
	return a, nil
}

func (r *Repository) DeleteAsset(ctx context.Context, cloud, publicID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM asset WHERE cloud = $1 AND public_id = $2`, cloud, publicID)
	if err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return mediahost.ErrNotFound
	}
	return nil
}

func (r *Repository) ListAssets(ctx context.Context, cloud string) ([]*mediahost.Asset, error) {
	rows, err := r.db.Query(ctx, selectAsset+` WHERE cloud = $1 ORDER BY created_at DESC, public_id`, cloud)
	if err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	defer rows.Close()

	var out []*mediahost.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("list assets", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	return out, nil
}

func variantsOrEmpty(v []mediahost.Variant) []mediahost.Variant {
	if v == nil {
		return []mediahost.Variant{}
	}
	return v
}
