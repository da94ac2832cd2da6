// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getLogsCmd = &cobra.Command{
	Use:   "get-logs [BUILD_ID]",
	Short: "Print the captured output of a build (latest when no id is given)",
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

		lines, err := a.GetLogs(buildID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getLogsCmd)
}
