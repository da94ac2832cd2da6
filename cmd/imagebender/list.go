// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"imagebender/internal/build"
)

var listBuildsCmd = &cobra.Command{
	Use:   "list-builds",
	Short: "List all recorded builds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, s, err := loadApp()
		if err != nil {
			return err
		}
		defer s.Close()

		builds, err := a.ListBuilds()
		if err != nil {
			return err
		}
		if len(builds) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), SubtitleStyle.Render("No builds recorded yet."))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BUILD ID\tTARGET\tSTATE\tLAYERS\tCREATED")
		for _, b := range builds {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				shortID(b.ID),
				b.TargetImage,
				stateStyle(b.State).Render(string(b.State)),
				len(b.Layers),
				b.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

// shortID truncates a build id for table display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// stateStyle picks the display style for a build state.
func stateStyle(s build.State) lipgloss.Style {
	switch s {
	case build.StateDone:
		return SuccessStyle
	case build.StateFailed:
		return ErrorStyle
	case build.StateInProgress:
		return WarningStyle
	default:
		return SubtitleStyle
	}
}

func init() {
	rootCmd.AddCommand(listBuildsCmd)
}
