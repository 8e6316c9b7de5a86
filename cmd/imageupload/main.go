package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-imageupload/pkg/imageupload/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imageupload",
		Short: "Signed image uploads to a Cloudinary-style hosting service",
		Long: `imageupload signs upload parameters with a server-held secret and
transfers images directly to the hosting service.

Configuration is read from the environment and from an optional .env file.
Run "imageupload env" for the list of variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file to load (ignored if missing)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMediaHostCommand())
	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewSignCommand())
	rootCmd.AddCommand(NewEnvCommand())

	return rootCmd
}

// loadConfig reads the configuration for a command: the dotenv file first,
// then the process environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(config.WithDotEnv(envFile), config.WithEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger returns a colored console logger in development and a JSON
// logger elsewhere.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level := httplog.LevelByName(cfg.LogLevel)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsDevelopment() {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// newRequestLogger returns the chi request logger for service.
func newRequestLogger(service string, cfg *config.Config) *httplog.Logger {
	return httplog.NewLogger(service, httplog.Options{
		JSON:            !cfg.IsDevelopment(),
		LogLevel:        httplog.LevelByName(cfg.LogLevel),
		Concise:         cfg.IsDevelopment(),
		QuietDownRoutes: []string{"/healthz", "/metrics"},
		QuietDownPeriod: time.Minute,
		Tags:            map[string]string{"env": cfg.Environment, "version": version},
	})
}

// runServer serves handler on addr until SIGINT or SIGTERM.
func runServer(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
