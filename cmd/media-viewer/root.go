package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "media-viewer",
		Short:         "Serve an ordered media collection with thumbnails and interaction recording",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFlag != "" {
				return os.Setenv("MEDIA_CONFIG", configFlag)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Settings file (YAML or TOML); overrides MEDIA_CONFIG")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newSequenceCommand())
	rootCmd.AddCommand(newThumbnailsCommand())

	return rootCmd
}
