package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/simple-imageupload/pkg/imageupload/mediahost"
)

// Repository implements mediahost.Repository using in-memory storage
type Repository struct {
	mu     sync.RWMutex
	assets map[string]*mediahost.Asset // "cloud/public_id" -> asset
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{assets: make(map[string]*mediahost.Asset)}
}

func assetKey(cloud, publicID string) string {
	return cloud + "/" + publicID
}

func clone(a *mediahost.Asset) *mediahost.Asset {
	c := *a
	c.Eager = append([]mediahost.Variant(nil), a.Eager...)
	return &c
}

func (r *Repository) SaveAsset(ctx context.Context, asset *mediahost.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.assets[assetKey(asset.Cloud, asset.PublicID)] = clone(asset)
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, cloud, publicID string) (*mediahost.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[assetKey(cloud, publicID)]
	if !ok {
		return nil, mediahost.ErrNotFound
	}
	return clone(a), nil
}

func (r *Repository) DeleteAsset(ctx context.Context, cloud, publicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assetKey(cloud, publicID)
	if _, ok := r.assets[key]; !ok {
		return mediahost.ErrNotFound
	}
	delete(r.assets, key)
	return nil
}

// ListAssets returns the cloud's assets, newest first
func (r *Repository) ListAssets(ctx context.Context, cloud string) ([]*mediahost.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*mediahost.Asset
	for _, a := range r.assets {
		if a.Cloud == cloud {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].PublicID < out[j].PublicID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
