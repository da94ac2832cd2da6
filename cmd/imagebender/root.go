// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for imagebender.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"imagebender/internal/config"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool
	// debug enables debug output
	debug bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// cfg is the loaded configuration, resolved by initRootConfig.
	cfg = config.DefaultConfig()

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "imagebender",
		Short: "Build container images with Ansible playbooks",
		Long: TitleStyle.Render("imagebender") + SubtitleStyle.Render(" - Build container images with Ansible playbooks") + `

imagebender runs an Ansible playbook against a working container and
commits the result as an image. Every task becomes an image layer, and
layers are cached so unchanged tasks are loaded from cache instead of
being executed again.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Write a playbook for your image
  2. Build: imagebender build ./site.yml fedora:41 my-image
  3. Inspect: imagebender inspect

` + SubtitleStyle.Render("Examples:") + `
  imagebender build ./site.yml fedora:41 my-image
  imagebender list-builds       List all recorded builds
  imagebender get-logs          Show output of the latest build
  imagebender inspect           Show metadata of the latest build`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/imagebender/config.cue)")
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig reads in the config file if present.
func initRootConfig() {
	loaded, _, err := config.Load(config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+err.Error())
		return
	}
	cfg = loaded

	// Flags win over the config file.
	if !verbose {
		verbose = cfg.UI.Verbose
	}
	if !debug {
		debug = cfg.UI.Debug
	}
}
