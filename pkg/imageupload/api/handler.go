// Package api exposes the signature endpoint, the public upload
// configuration and a server-side proxy upload over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/metrics"
	"github.com/tendant/simple-imageupload/pkg/imageupload/signer"
	"github.com/tendant/simple-imageupload/pkg/imageupload/uploader"
)

// PublicConfig is the upload configuration a browser client needs. It never
// contains the API secret.
type PublicConfig struct {
	CloudName     string   `json:"cloud_name"`
	APIKey        string   `json:"api_key"`
	UploadURL     string   `json:"upload_url"`
	Eager         string   `json:"eager"`
	MaxFileSize   int64    `json:"max_file_size"`
	AcceptedTypes []string `json:"accepted_types"`
}

// UploadHandler handles signature and upload endpoints
type UploadHandler struct {
	signer       *signer.Signer
	transport    uploader.Transport
	uploaderOpts []uploader.Option
	public       PublicConfig
	observer     metrics.Observer
	logger       *slog.Logger
}

// Option configures an UploadHandler
type Option func(*UploadHandler)

// WithTransport enables the proxy upload endpoint
func WithTransport(t uploader.Transport) Option {
	return func(h *UploadHandler) {
		h.transport = t
	}
}

// WithUploaderOptions sets the options used for every proxied upload
func WithUploaderOptions(opts ...uploader.Option) Option {
	return func(h *UploadHandler) {
		h.uploaderOpts = append(h.uploaderOpts, opts...)
	}
}

// WithPublicConfig sets the values served by GET /config
func WithPublicConfig(cfg PublicConfig) Option {
	return func(h *UploadHandler) {
		h.public = cfg
	}
}

// WithObserver records signature and transfer metrics
func WithObserver(obs metrics.Observer) Option {
	return func(h *UploadHandler) {
		if obs != nil {
			h.observer = obs
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *UploadHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewUploadHandler(s *signer.Signer, opts ...Option) *UploadHandler {
	h := &UploadHandler{
		signer:   s,
		observer: metrics.Nop(),
		logger:   slog.Default(),
		public: PublicConfig{
			Eager:         imageupload.DefaultTransformSpec,
			MaxFileSize:   imageupload.DefaultMaxFileSize,
			AcceptedTypes: imageupload.AcceptedTypes,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for the upload endpoints
func (h *UploadHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/generate-signature", h.GenerateSignature)
	r.Get("/config", h.GetConfig)
	r.HandleFunc("/upload", h.Upload)
	return r
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SignatureResponse is returned by the signature endpoint
type SignatureResponse struct {
	Signature string `json:"signature"`
}

// GenerateSignature signs the {public_id, eager, timestamp} triple in the
// request body with the server-held secret.
func (h *UploadHandler) GenerateSignature(w http.ResponseWriter, r *http.Request) {
	var params imageupload.UploadRequestParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.logger.Error("Failed to decode signature request", "error", err)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, messageResponse{Message: "Invalid request body"})
		return
	}
	if params.IssuedAt <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, messageResponse{Message: "timestamp is required"})
		return
	}

	start := time.Now()
	sig, err := h.signer.Sign(params)
	h.observer.RecordSignature(time.Since(start), err)
	if err != nil {
		h.logger.Error("Failed to sign upload parameters", "public_id", params.ResourceID, "error", err)
		message := "Failed to generate signature"
		if errors.Is(err, imageupload.ErrMissingSecret) {
			message = "API Secret is missing"
		}
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, messageResponse{Message: message})
		return
	}

	render.JSON(w, r, SignatureResponse{Signature: string(sig)})
}

// GetConfig returns the public upload configuration
func (h *UploadHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.public)
}

// ProxyUploadResponse is returned by the proxy upload endpoint
type ProxyUploadResponse struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// Upload accepts a multipart "file", signs it server side and forwards it to
// the hosting service.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		render.Status(r, http.StatusMethodNotAllowed)
		render.JSON(w, r, errorResponse{Error: fmt.Sprintf("Method %s not allowed", r.Method)})
		return
	}
	if h.transport == nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{Error: imageupload.UserMessage(imageupload.ErrConfiguration)})
		return
	}

	maxSize := h.public.MaxFileSize
	if maxSize <= 0 {
		maxSize = imageupload.DefaultMaxFileSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		render.Status(r, http.StatusBadRequest)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			render.JSON(w, r, errorResponse{Error: fmt.Sprintf("File is too large, maximum is %s", units.HumanSize(float64(maxSize)))})
			return
		}
		h.logger.Error("Failed to parse upload form", "error", err)
		render.JSON(w, r, errorResponse{Error: "Invalid multipart request"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	_, header, err := r.FormFile(imageupload.ParamFile)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "Missing file"})
		return
	}
	file := imageupload.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Open: func() (io.ReadCloser, error) {
			return header.Open()
		},
	}

	opts := append(slices.Clone(h.uploaderOpts),
		uploader.WithObserver(h.observer),
		uploader.WithLogger(h.logger),
	)
	orchestrator := uploader.New(uploader.LocalSignatures(h.signer), h.transport, opts...)
	result, err := orchestrator.SelectFile(r.Context(), file)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, imageupload.ErrValidation) {
			status = http.StatusBadRequest
		}
		message := imageupload.UserMessage(err)
		if errors.Is(err, imageupload.ErrConfiguration) {
			message = imageupload.UserMessage(imageupload.ErrConfiguration)
		}
		h.logger.Error("Proxy upload failed", "file", header.Filename, "error", err)
		render.Status(r, status)
		render.JSON(w, r, errorResponse{Error: message})
		return
	}

	render.JSON(w, r, ProxyUploadResponse{URL: result.SecureURL, PublicID: result.PublicID})
}
