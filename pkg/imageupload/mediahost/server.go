// Package mediahost is a local stand-in for a Cloudinary-style media hosting
// service. It accepts signed multipart uploads, verifies the signature with
// the shared secret, stores the original image, renders the requested eager
// variants and serves everything back from delivery URLs.
//
// It exists for development and end-to-end tests; the uploader never depends
// on it.
package mediahost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/signer"
	"github.com/tendant/simple-imageupload/pkg/imageupload/transform"
)

const (
	// DefaultSignatureMaxAge is how old an upload timestamp may be.
	DefaultSignatureMaxAge = time.Hour

	// DefaultCacheSize is the number of delivered objects kept in memory.
	DefaultCacheSize = 256

	// MaxImagePixels bounds the decoded size of an uploaded original.
	MaxImagePixels = 25_000_000

	// multipart overhead allowed on top of the file size limit
	formOverhead = 1 << 20
)

// Config describes the single cloud served by the emulator.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string

	// PublicURL is the externally visible base URL used in delivery links,
	// e.g. "http://localhost:9090".
	PublicURL string

	MaxFileSize     int64
	SignatureMaxAge time.Duration
	Algorithm       string
	CacheSize       int
}

// Server implements the upload, destroy and delivery endpoints.
type Server struct {
	cfg    Config
	store  BlobStore
	repo   Repository
	signer *signer.Signer
	cache  *lru.Cache[string, cachedObject]
	logger *slog.Logger
	now    func() time.Time
}

type cachedObject struct {
	data        []byte
	contentType string
}

// Option is a functional option for configuring a Server
type Option func(*Server)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for versions and signature age checks
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates an emulator for cfg backed by store and repo.
func NewServer(cfg Config, store BlobStore, repo Repository, opts ...Option) (*Server, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: cloud name, api key and api secret are required", imageupload.ErrConfiguration)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = imageupload.DefaultMaxFileSize
	}
	if cfg.SignatureMaxAge == 0 {
		cfg.SignatureMaxAge = DefaultSignatureMaxAge
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	cache, err := lru.New[string, cachedObject](cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		repo:   repo,
		cache:  cache,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.signer = signer.New(
		signer.WithSecret(cfg.APISecret),
		signer.WithAlgorithm(cfg.Algorithm),
		signer.WithMaxAge(cfg.SignatureMaxAge),
		signer.WithClock(s.now),
	)
	return s, nil
}

// Routes returns the router for the emulator endpoints
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1_1/{cloud}/image/upload", s.Upload)
	r.Post("/v1_1/{cloud}/image/destroy", s.Destroy)
	r.Get("/v1_1/{cloud}/resources/image", s.ListResources)
	r.Get("/{cloud}/image/upload/*", s.Deliver)
	return r
}

// UploadResponse mirrors the hosting service's upload response.
type UploadResponse struct {
	imageupload.UploadResult
	ResourceType     string    `json:"resource_type"`
	Type             string    `json:"type"`
	CreatedAt        time.Time `json:"created_at"`
	OriginalFilename string    `json:"original_filename,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: errorBody{Message: message}})
}

// formValues collects the non-file form fields, first value wins.
func formValues(r *http.Request) map[string]string {
	values := make(map[string]string, len(r.MultipartForm.Value))
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			values[k] = v[0]
		}
	}
	return values
}

// authorize checks the cloud, api key and signature of a signed request.
// It writes the error response and returns false on failure.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, values map[string]string) bool {
	if cloud := chi.URLParam(r, "cloud"); cloud != s.cfg.CloudName {
		s.fail(w, r, http.StatusNotFound, fmt.Sprintf("Invalid cloud_name %s", cloud))
		return false
	}
	apiKey := values[imageupload.ParamAPIKey]
	if apiKey == "" {
		s.fail(w, r, http.StatusUnauthorized, "Must supply api_key")
		return false
	}
	if apiKey != s.cfg.APIKey {
		s.fail(w, r, http.StatusUnauthorized, fmt.Sprintf("Unknown API key %s", apiKey))
		return false
	}
	if values[imageupload.ParamTimestamp] == "" {
		s.fail(w, r, http.StatusBadRequest, "Missing required parameter - timestamp")
		return false
	}

	sig := values[imageupload.ParamSignature]
	err := s.signer.Verify(values, sig)
	switch {
	case err == nil:
		return true
	case errors.Is(err, signer.ErrMissingSignature):
		s.fail(w, r, http.StatusBadRequest, "Missing required parameter - signature")
	case errors.Is(err, signer.ErrInvalidTimestamp):
		s.fail(w, r, http.StatusBadRequest, "Invalid timestamp")
	case errors.Is(err, signer.ErrStaleTimestamp):
		s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("Stale request - reported time is %s which is more than %s ago",
			values[imageupload.ParamTimestamp], s.cfg.SignatureMaxAge))
	case errors.Is(err, signer.ErrInvalidSignature):
		s.logger.Warn("invalid signature", "public_id", values[imageupload.ParamPublicID])
		s.fail(w, r, http.StatusUnauthorized, fmt.Sprintf("Invalid Signature %s. String to sign - '%s'.",
			sig, signer.Canonical(values)))
	default:
		s.logger.Error("signature verification failed", "error", err)
		s.fail(w, r, http.StatusInternalServerError, "Internal error")
	}
	return false
}

// Upload handles a signed multipart image upload
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+formOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("File size too large. Maximum is %d.", s.cfg.MaxFileSize))
			return
		}
		s.fail(w, r, http.StatusBadRequest, "Invalid multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	values := formValues(r)
	if !s.authorize(w, r, values) {
		return
	}

	file, header, err := r.FormFile(imageupload.ParamFile)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "Missing required parameter - file")
		return
	}
	defer file.Close()

	if header.Size > s.cfg.MaxFileSize {
		s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("File size too large. Got %d. Maximum is %d.", header.Size, s.cfg.MaxFileSize))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "Failed to read file")
		return
	}

	contentType := http.DetectContentType(data)
	format := transform.Format(contentType)
	if format == "" {
		s.fail(w, r, http.StatusBadRequest, "Invalid image file")
		return
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "Invalid image file")
		return
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("Image is too large. Maximum is %d pixels.", int64(MaxImagePixels)))
		return
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, "Invalid image file")
		return
	}

	transformations, err := transform.Parse(values[imageupload.ParamEager])
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid transformation: %v", err))
		return
	}

	publicID := values[imageupload.ParamPublicID]
	if publicID == "" {
		publicID = strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	}

	ctx := r.Context()
	cloud := s.cfg.CloudName
	now := s.now().UTC()
	asset := &Asset{
		ID:               uuid.New(),
		Cloud:            cloud,
		PublicID:         publicID,
		Version:          now.Unix(),
		Format:           format,
		ContentType:      contentType,
		Width:            img.Bounds().Dx(),
		Height:           img.Bounds().Dy(),
		Bytes:            int64(len(data)),
		ObjectKey:        objectKey(cloud, "", publicID, now.Unix(), format),
		OriginalFilename: strings.TrimSuffix(path.Base(header.Filename), path.Ext(header.Filename)),
		CreatedAt:        now,
	}
	// The replaced asset stays intact until the new one is saved.
	var previous *Asset
	if existing, err := s.repo.GetAsset(ctx, cloud, publicID); err == nil {
		asset.ID = existing.ID
		previous = existing
	}

	if err := s.store.Put(ctx, asset.ObjectKey, bytes.NewReader(data), asset.Bytes, contentType); err != nil {
		s.logger.Error("failed to store original", "key", asset.ObjectKey, "error", err)
		s.fail(w, r, http.StatusInternalServerError, "Failed to store file")
		return
	}

	for _, t := range transformations {
		variant, err := s.renderVariant(ctx, img, t, asset)
		if err != nil {
			s.logger.Error("failed to render eager transformation", "transformation", t.String(), "error", err)
			s.deleteObjects(ctx, unreferenced(asset, previous))
			s.fail(w, r, http.StatusInternalServerError, "Failed to generate eager transformation")
			return
		}
		asset.Eager = append(asset.Eager, variant)
	}

	if err := s.repo.SaveAsset(ctx, asset); err != nil {
		s.logger.Error("failed to save asset", "public_id", publicID, "error", err)
		s.deleteObjects(ctx, unreferenced(asset, previous))
		s.fail(w, r, http.StatusInternalServerError, "Failed to save asset")
		return
	}
	if previous != nil {
		s.deleteObjects(ctx, unreferenced(previous, asset))
	}
	s.invalidate(cloud, publicID)

	s.logger.Info("asset uploaded", "cloud", cloud, "public_id", publicID, "bytes", asset.Bytes, "eager", len(asset.Eager))
	render.JSON(w, r, s.uploadResponse(asset))
}

func (s *Server) renderVariant(ctx context.Context, img image.Image, t transform.Transformation, asset *Asset) (Variant, error) {
	out := transform.Apply(img, t)
	var buf bytes.Buffer
	if err := transform.Encode(&buf, out, asset.Format); err != nil {
		return Variant{}, err
	}
	key := objectKey(asset.Cloud, t.String(), asset.PublicID, asset.Version, asset.Format)
	if err := s.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), asset.ContentType); err != nil {
		return Variant{}, err
	}
	return Variant{
		Transformation: t.String(),
		ObjectKey:      key,
		Width:          out.Bounds().Dx(),
		Height:         out.Bounds().Dy(),
		Bytes:          int64(buf.Len()),
	}, nil
}

func (s *Server) uploadResponse(a *Asset) UploadResponse {
	resp := UploadResponse{
		UploadResult: imageupload.UploadResult{
			PublicID:  a.PublicID,
			AssetID:   strings.ReplaceAll(a.ID.String(), "-", ""),
			Version:   a.Version,
			Format:    a.Format,
			Width:     a.Width,
			Height:    a.Height,
			Bytes:     a.Bytes,
			URL:       s.deliveryURL(a, ""),
			SecureURL: s.deliveryURL(a, ""),
		},
		ResourceType:     "image",
		Type:             "upload",
		CreatedAt:        a.CreatedAt,
		OriginalFilename: a.OriginalFilename,
	}
	for _, v := range a.Eager {
		u := s.deliveryURL(a, v.Transformation)
		resp.Eager = append(resp.Eager, imageupload.EagerVariant{
			Transformation: v.Transformation,
			Width:          v.Width,
			Height:         v.Height,
			Bytes:          v.Bytes,
			URL:            u,
			SecureURL:      u,
		})
	}
	return resp
}

// deliveryURL builds {public}/{cloud}/image/upload[/{transformation}]/v{version}/{public_id}.{format}
func (s *Server) deliveryURL(a *Asset, transformation string) string {
	parts := []string{s.cfg.PublicURL, a.Cloud, "image", "upload"}
	if transformation != "" {
		parts = append(parts, transformation)
	}
	parts = append(parts, "v"+strconv.FormatInt(a.Version, 10), a.PublicID+"."+a.Format)
	return strings.Join(parts, "/")
}

func objectKey(cloud, transformation, publicID string, version int64, format string) string {
	v := "v" + strconv.FormatInt(version, 10)
	if transformation == "" {
		return path.Join(cloud, "image", "upload", v, publicID+"."+format)
	}
	return path.Join(cloud, "image", "upload", transformation, v, publicID+"."+format)
}

func objectKeys(a *Asset) []string {
	keys := []string{a.ObjectKey}
	for _, v := range a.Eager {
		keys = append(keys, v.ObjectKey)
	}
	return keys
}

// unreferenced returns the keys of a that keep is not using.
func unreferenced(a, keep *Asset) []string {
	inUse := make(map[string]bool)
	if keep != nil {
		for _, k := range objectKeys(keep) {
			inUse[k] = true
		}
	}
	var keys []string
	for _, k := range objectKeys(a) {
		if !inUse[k] {
			keys = append(keys, k)
		}
	}
	return keys
}

// deleteObjects removes stored objects, logging failures
func (s *Server) deleteObjects(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := s.store.Delete(ctx, k); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn("failed to delete object", "key", k, "error", err)
		}
	}
}

// invalidate drops cached deliveries of publicID
func (s *Server) invalidate(cloud, publicID string) {
	prefix := cloud + "|" + publicID + "|"
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
}

// Destroy handles a signed deletion request
func (s *Server) Destroy(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			s.fail(w, r, http.StatusBadRequest, "Invalid request")
			return
		}
	}
	values := make(map[string]string)
	if r.MultipartForm != nil {
		values = formValues(r)
	} else {
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}
	}
	if !s.authorize(w, r, values) {
		return
	}

	ctx := r.Context()
	publicID := values[imageupload.ParamPublicID]
	asset, err := s.repo.GetAsset(ctx, s.cfg.CloudName, publicID)
	if errors.Is(err, ErrNotFound) {
		render.JSON(w, r, map[string]string{"result": "not found"})
		return
	} else if err != nil {
		s.logger.Error("failed to load asset", "public_id", publicID, "error", err)
		s.fail(w, r, http.StatusInternalServerError, "Failed to load asset")
		return
	}

	if err := s.repo.DeleteAsset(ctx, s.cfg.CloudName, publicID); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error("failed to delete asset", "public_id", publicID, "error", err)
		s.fail(w, r, http.StatusInternalServerError, "Failed to delete asset")
		return
	}
	s.deleteObjects(ctx, objectKeys(asset))
	s.invalidate(s.cfg.CloudName, publicID)
	s.logger.Info("asset destroyed", "public_id", publicID)
	render.JSON(w, r, map[string]string{"result": "ok"})
}

// ListResources returns the uploaded assets. It is authenticated with the
// api key and secret as HTTP basic credentials.
func (s *Server) ListResources(w http.ResponseWriter, r *http.Request) {
	if cloud := chi.URLParam(r, "cloud"); cloud != s.cfg.CloudName {
		s.fail(w, r, http.StatusNotFound, fmt.Sprintf("Invalid cloud_name %s", cloud))
		return
	}
	key, secret, ok := r.BasicAuth()
	if !ok || key != s.cfg.APIKey || secret != s.cfg.APISecret {
		s.fail(w, r, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	assets, err := s.repo.ListAssets(r.Context(), s.cfg.CloudName)
	if err != nil {
		s.logger.Error("failed to list assets", "error", err)
		s.fail(w, r, http.StatusInternalServerError, "Failed to list resources")
		return
	}
	resources := make([]UploadResponse, 0, len(assets))
	for _, a := range assets {
		resources = append(resources, s.uploadResponse(a))
	}
	render.JSON(w, r, map[string]any{"resources": resources})
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// Deliver serves an original or derived image. Transformations that were not
// generated eagerly are rendered on first request.
func (s *Server) Deliver(w http.ResponseWriter, r *http.Request) {
	cloud := chi.URLParam(r, "cloud")
	if cloud != s.cfg.CloudName {
		http.NotFound(w, r)
		return
	}

	segments := strings.Split(strings.Trim(chi.URLParam(r, "*"), "/"), "/")
	var transformation string
	if len(segments) > 1 && !versionSegment.MatchString(segments[0]) {
		t, err := transform.ParseOne(segments[0])
		if err == nil {
			transformation = t.String()
			segments = segments[1:]
		}
	}
	if len(segments) > 1 && versionSegment.MatchString(segments[0]) {
		segments = segments[1:]
	}
	name := strings.Join(segments, "/")
	ext := path.Ext(name)
	publicID := strings.TrimSuffix(name, ext)
	if publicID == "" {
		http.NotFound(w, r)
		return
	}

	cacheKey := cloud + "|" + publicID + "|" + transformation + "|" + ext
	obj, ok := s.cache.Get(cacheKey)
	if !ok {
		var err error
		obj, err = s.load(r.Context(), cloud, publicID, transformation)
		if errors.Is(err, ErrNotFound) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			s.logger.Error("failed to deliver asset", "public_id", publicID, "transformation", transformation, "error", err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		s.cache.Add(cacheKey, obj)
	}

	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.Header().Set("Cache-Control", "public, max-age=2592000")
	_, _ = w.Write(obj.data)
}

func (s *Server) load(ctx context.Context, cloud, publicID, transformation string) (cachedObject, error) {
	asset, err := s.repo.GetAsset(ctx, cloud, publicID)
	if err != nil {
		return cachedObject{}, err
	}

	key := asset.ObjectKey
	if transformation != "" {
		key = ""
		for _, v := range asset.Eager {
			if v.Transformation == transformation {
				key = v.ObjectKey
			}
		}
	}
	if key != "" {
		return s.read(ctx, key)
	}

	t, err := transform.ParseOne(transformation)
	if err != nil {
		return cachedObject{}, ErrNotFound
	}
	original, err := s.read(ctx, asset.ObjectKey)
	if err != nil {
		return cachedObject{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(original.data))
	if err != nil {
		return cachedObject{}, fmt.Errorf("failed to decode original: %w", err)
	}
	var buf bytes.Buffer
	if err := transform.Encode(&buf, transform.Apply(img, t), asset.Format); err != nil {
		return cachedObject{}, err
	}
	return cachedObject{data: buf.Bytes(), contentType: asset.ContentType}, nil
}

func (s *Server) read(ctx context.Context, key string) (cachedObject, error) {
	rc, contentType, err := s.store.Get(ctx, key)
	if err != nil {
		return cachedObject{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return cachedObject{}, err
	}
	return cachedObject{data: data, contentType: contentType}, nil
}

// UploadURL returns the upload endpoint for the emulated cloud.
func (s *Server) UploadURL() string {
	return s.cfg.PublicURL + "/v1_1/" + s.cfg.CloudName + "/image/upload"
}
