package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-imageupload/pkg/imageupload"
	"github.com/tendant/simple-imageupload/pkg/imageupload/config"
	"github.com/tendant/simple-imageupload/pkg/imageupload/signer"
)

// NewSignCommand creates the sign command
func NewSignCommand() *cobra.Command {
	var params imageupload.UploadRequestParams

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature for a set of upload parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if params.IssuedAt == 0 {
				params.IssuedAt = time.Now().Unix()
			}

			sig, err := cfg.Signer().Sign(params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				fmt.Fprintf(out, "String to sign: %s\n", signer.Canonical(params.Values()))
				fmt.Fprintf(out, "Timestamp: %d\n", params.IssuedAt)
			}
			fmt.Fprintln(out, sig)
			return nil
		},
	}

	cmd.Flags().StringVar(&params.ResourceID, "public-id", imageupload.SampleResourceID, "public id")
	cmd.Flags().StringVar(&params.TransformSpec, "eager", imageupload.DefaultTransformSpec, "eager transformations")
	cmd.Flags().Int64Var(&params.IssuedAt, "timestamp", 0, "unix timestamp (default now)")
	return cmd
}

// NewEnvCommand creates the env command
func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables read by imageupload",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := config.Describe()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
