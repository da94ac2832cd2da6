// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"imagebender/internal/build"
)

var (
	buildNoCache bool
	buildBuilder string
	buildVolumes []string

	buildCmd = &cobra.Command{
		Use:   "build PLAYBOOK BASE_IMAGE TARGET_IMAGE",
		Short: "Build an image by running a playbook against a working container",
		Long: `Build an image from BASE_IMAGE by executing PLAYBOOK inside a working
container and committing the result as TARGET_IMAGE.

Each task of the playbook becomes one image layer. When caching is
enabled (the default), a task whose content and base layer match a
previous build is loaded from cache instead of being executed.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			playbook, baseImage, targetImage := args[0], args[1], args[2]

			a, s, err := loadApp()
			if err != nil {
				return err
			}
			defer s.Close()

			builderName := buildBuilder
			if builderName == "" {
				builderName = cfg.Builder
			}

			b := build.New(build.Params{
				BaseImage:   baseImage,
				TargetImage: targetImage,
				BuilderName: builderName,
				CacheTasks:  cfg.CacheTasks && !buildNoCache,
			})

			if err := a.Build(cmd.Context(), playbook, b, buildVolumes); err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			fmt.Fprintln(cmd.OutOrStdout(),
				SuccessStyle.Render("Image built: ")+HighlightStyle.Render(targetImage)+
					SubtitleStyle.Render(" (build "+b.ID+")"))
			return nil
		},
	}
)

func init() {
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "disable layer caching for this build")
	buildCmd.Flags().StringVar(&buildBuilder, "builder", "", "container engine backend (default from config)")
	buildCmd.Flags().StringArrayVar(&buildVolumes, "volume", nil, "bind-mount spec for the working container (repeatable)")

	rootCmd.AddCommand(buildCmd)
}
