// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imagebender/internal/app"
	"imagebender/internal/runner"
	"imagebender/internal/store"
)

// internalCmd is the parent command for internal subcommands. The task
// engine's callback plugin shells out to them between tasks; they are not
// meant for direct use.
var internalCmd = &cobra.Command{
	Use:    "internal",
	Short:  "Internal commands (not for direct use)",
	Hidden: true,
}

// loadCallbackApp wires an orchestrator for a callback invocation, using the
// store path and build id the engine received through its environment.
func loadCallbackApp() (*app.Application, *store.Store, string, error) {
	storePath := os.Getenv(runner.EnvStorePath)
	buildID := os.Getenv(runner.EnvBuildID)
	if storePath == "" || buildID == "" {
		return nil, nil, "", fmt.Errorf("%s and %s must be set (is this running under the task engine?)",
			runner.EnvStorePath, runner.EnvBuildID)
	}

	s, err := store.Open(storePath)
	if err != nil {
		return nil, nil, "", err
	}
	return app.New(s, newLogger()), s, buildID, nil
}

// tryReuseCmd prints the cached layer id for the given task content, or
// nothing on a cache miss. An empty line tells the plugin to run the task.
var tryReuseCmd = &cobra.Command{
	Use:   "try-reuse CONTENT",
	Short: "Rewind the working container to a cached layer if one matches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, s, buildID, err := loadCallbackApp()
		if err != nil {
			return err
		}
		defer s.Close()

		layerID, err := a.MaybeLoadFromCache(cmd.Context(), args[0], buildID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), layerID)
		return nil
	},
}

// recordProgressCmd appends a layer to the build's chain. With no LAYER_ID
// the task was skipped and its layer is re-derived from the cache.
var recordProgressCmd = &cobra.Command{
	Use:   "record-progress CONTENT [LAYER_ID]",
	Short: "Record a task's layer on the build",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, s, buildID, err := loadCallbackApp()
		if err != nil {
			return err
		}
		defer s.Close()

		layerID := ""
		if len(args) == 2 {
			layerID = args[1]
		}
		_, err = a.RecordProgress(cmd.Context(), args[0], layerID, buildID)
		return err
	},
}

// cacheResultCmd snapshots the working container after an executed task and
// prints the snapshot image name (empty when caching is disabled).
var cacheResultCmd = &cobra.Command{
	Use:   "cache-result CONTENT",
	Short: "Commit the working container and cache the resulting layer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, s, buildID, err := loadCallbackApp()
		if err != nil {
			return err
		}
		defer s.Close()

		imageName, err := a.CacheTaskResult(cmd.Context(), args[0], buildID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), imageName)
		return nil
	},
}

func init() {
	internalCmd.AddCommand(tryReuseCmd)
	internalCmd.AddCommand(recordProgressCmd)
	internalCmd.AddCommand(cacheResultCmd)
	rootCmd.AddCommand(internalCmd)
}
