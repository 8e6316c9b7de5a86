package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-imageupload/pkg/imageupload/mediahost"
)

// NewMediaHostCommand creates the mediahost command
func NewMediaHostCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "mediahost",
		Short: "Run a local Cloudinary-compatible media host",
		Long: `Run a local stand-in for the hosting service. It verifies signed uploads with
CLOUDINARY_API_SECRET, stores originals and eager variants in STORAGE_URL,
keeps asset metadata in DATABASE_URL and serves delivery URLs.

Point the uploader at it with CLOUDINARY_BASE_URL=http://localhost:<port>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.MediaHost.Port = port
			}
			logger := newLogger(cmd, cfg)
			ctx := cmd.Context()

			store, err := cfg.BuildBlobStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage backend: %w", err)
			}
			repo, closeRepo, err := cfg.BuildRepository(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize asset repository: %w", err)
			}
			defer closeRepo()

			server, err := mediahost.NewServer(cfg.MediaHostServerConfig(), store, repo, mediahost.WithLogger(logger))
			if err != nil {
				return err
			}

			r := chi.NewRouter()
			r.Use(httplog.RequestLogger(newRequestLogger("mediahost", cfg)))
			r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
				render.JSON(w, r, map[string]string{"status": "ok"})
			})
			r.Mount("/", server.Routes())

			logger.Info("media host ready", "upload_url", server.UploadURL(), "storage", cfg.MediaHost.StorageURL)
			return runServer(ctx, logger, fmt.Sprintf(":%s", cfg.MediaHost.Port), r)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides MEDIAHOST_PORT)")
	return cmd
}
