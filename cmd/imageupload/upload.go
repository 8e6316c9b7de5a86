package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/sigclient"
	"github.com/tendant/simple-imageupload/pkg/imageupload/uploader"
)

// NewUploadCommand creates the upload command
func NewUploadCommand() *cobra.Command {
	var signatureURL string
	var publicID string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an image to the hosting service",
		Long: `Upload a png, gif or jpeg image. The upload parameters are signed by the
signature endpoint (SIGNATURE_SERVICE_URL) and the file is sent directly to the
hosting service (CLOUDINARY_BASE_URL). The secret never leaves the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist: %s", path)
			} else if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if signatureURL != "" {
				cfg.Upload.SignatureURL = signatureURL
			}
			if publicID != "" {
				cfg.Upload.ResourceIDPolicy = "fixed:" + publicID
			}
			logger := newLogger(cmd, cfg)

			transport, err := cfg.HostClient(nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			opts := append(cfg.UploaderOptions(),
				uploader.WithLogger(logger),
				uploader.WithListener(uploader.ListenerFuncs{
					Progress: func(percent int) {
						fmt.Fprintf(cmd.ErrOrStderr(), "\rUploading %s... %3d%%", filepath.Base(path), percent)
					},
				}),
			)
			o := uploader.New(sigclient.New(cfg.Upload.SignatureURL), transport, opts...)

			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				fmt.Fprintf(out, "Uploading file: %s (%s)\n", path, units.HumanSize(float64(info.Size())))
			}

			result, err := o.SelectFile(cmd.Context(), imageupload.File{
				Name: filepath.Base(path),
				Size: info.Size(),
				Open: func() (io.ReadCloser, error) { return os.Open(path) },
			})
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				if errors.Is(err, imageupload.ErrValidation) {
					return errors.New(imageupload.UserMessage(err))
				}
				return fmt.Errorf("upload failed: %s", imageupload.UserMessage(err))
			}

			fmt.Fprintf(out, "Upload successful!\n")
			fmt.Fprintf(out, "Public ID: %s\n", result.PublicID)
			fmt.Fprintf(out, "URL: %s\n", result.SecureURL)
			for _, v := range result.Eager {
				fmt.Fprintf(out, "  %s: %s\n", v.Transformation, v.SecureURL)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&signatureURL, "signature-url", "", "base URL of the signature endpoint (overrides SIGNATURE_SERVICE_URL)")
	cmd.Flags().StringVar(&publicID, "public-id", "", "store the image under this public id")
	return cmd
}
