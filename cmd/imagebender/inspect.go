// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [BUILD_ID]",
	Short: "Show the full metadata of a build (latest when no id is given)",
	Long: `Show the full metadata of a build as JSON: configuration, lifecycle
timestamps, and the layer chain. Output lines are excluded; use
'imagebender get-logs' for those.`,
	Args: cobra.MaximumNArgs(1),
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

		detail, err := a.Inspect(buildID)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(detail, "", "  ")
		if err != nil {
			return fmt.Errorf("render build detail: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
