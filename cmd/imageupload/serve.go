package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/api"
	"github.com/tendant/simple-imageupload/pkg/imageupload/metrics"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signature and upload API",
		Long: `Run the HTTP API that signs upload parameters (POST /api/generate-signature),
serves the public upload configuration (GET /api/config) and proxies uploads
(POST /api/upload).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			logger := newLogger(cmd, cfg)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			observer, err := metrics.NewPrometheusObserver("imageupload", reg)
			if err != nil {
				return err
			}

			s := cfg.Signer()
			if !s.IsEnabled() {
				logger.Warn("CLOUDINARY_API_SECRET is not set, signature requests will fail")
			}

			public := api.PublicConfig{
				CloudName:     cfg.Cloudinary.CloudName,
				APIKey:        cfg.Cloudinary.APIKey,
				Eager:         cfg.Upload.Eager,
				MaxFileSize:   int64(cfg.Upload.MaxFileSize),
				AcceptedTypes: imageupload.AcceptedTypes,
			}
			opts := []api.Option{
				api.WithLogger(logger),
				api.WithObserver(observer),
				api.WithUploaderOptions(cfg.UploaderOptions()...),
			}
			if client, err := cfg.HostClient(nil); err != nil {
				logger.Warn("proxy upload disabled", "error", err)
			} else {
				public.UploadURL = client.UploadURL()
				opts = append(opts, api.WithTransport(client))
			}
			opts = append(opts, api.WithPublicConfig(public))

			router := api.NewRouter(api.NewUploadHandler(s, opts...), api.RouterConfig{
				RequestLogger:  newRequestLogger("imageupload", cfg),
				AllowedOrigins: cfg.CORSAllowedOrigins,
				Gatherer:       reg,
			})
			return runServer(cmd.Context(), logger, fmt.Sprintf(":%s", cfg.Port), router)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}
