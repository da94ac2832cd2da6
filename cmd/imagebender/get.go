// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getBuildCmd = &cobra.Command{
	Use:   "get-build [BUILD_ID]",
	Short: "Show a one-line summary of a build (latest when no id is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, s, err := loadApp()
		if err != nil {
			return err
		}
		defer s.Close()

		buildID := ""
		if len(args) == 1 {
			buildID = args[0]
		}

		b, err := a.GetBuild(buildID)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s -> %s  %s  %d layer(s)\n",
			HighlightStyle.Render(b.ID),
			b.BaseImage,
			b.TargetImage,
			stateStyle(b.State).Render(string(b.State)),
			len(b.Layers),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getBuildCmd)
}
