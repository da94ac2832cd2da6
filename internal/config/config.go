// SPDX-License-Identifier: MPL-2.0

// Package config loads the imagebender configuration. Config files are
// written in CUE and validated against an embedded schema before being
// merged over the built-in defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name, used for config and data paths.
	AppName = "imagebender"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// StoreFileName is the name of the build database file.
	StoreFileName = "builds.db"
)

//go:embed config_schema.cue
var configSchema string

type (
	// Config is the resolved application configuration.
	Config struct {
		// Builder names the container engine backend used for builds.
		Builder string `mapstructure:"builder"`
		// CacheTasks toggles layer reuse for new builds.
		CacheTasks bool `mapstructure:"cache_tasks"`
		// StorePath locates the build database.
		StorePath string `mapstructure:"store_path"`

		UI UIConfig `mapstructure:"ui"`
	}

	// UIConfig controls output on the CLI surface.
	UIConfig struct {
		Verbose bool `mapstructure:"verbose"`
		Debug   bool `mapstructure:"debug"`
	}

	// LoadOptions influence where Load looks for a config file.
	LoadOptions struct {
		// ConfigFilePath, when set, is used exclusively and must exist.
		ConfigFilePath string
		// ConfigDirPath overrides the platform config directory.
		ConfigDirPath string
	}
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Builder:    "buildah",
		CacheTasks: true,
		StorePath:  filepath.Join(xdg.DataHome, AppName, StoreFileName),
	}
}

// ConfigDir returns the imagebender configuration directory following the
// XDG base directory conventions of the platform.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Load resolves the configuration: defaults, then the config file (explicit
// path, config directory, or the current directory, in that order). A
// missing file is not an error unless an explicit path was given.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("builder", defaults.Builder)
	v.SetDefault("cache_tasks", defaults.CacheTasks)
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	v.SetDefault("ui.debug", defaults.UI.Debug)

	resolvedPath := ""
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", fmt.Errorf("config file not found: %s", opts.ConfigFilePath)
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", err
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir := opts.ConfigDirPath
		if cfgDir == "" {
			cfgDir = ConfigDir()
		}
		for _, candidate := range []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			ConfigFileName + "." + ConfigFileExt,
		} {
			if !fileExists(candidate) {
				continue
			}
			if err := loadCUEIntoViper(v, candidate); err != nil {
				return nil, "", err
			}
			resolvedPath = candidate
			break
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, resolvedPath, nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config
// schema, and merges its contents into Viper. Concrete(false) is used
// because every config field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return fmt.Errorf("invalid config file %s: %w", path, userValue.Err())
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// Save writes the configuration to the config directory, creating it as
// needed.
func Save(cfg *Config) error {
	cfgDir := ConfigDir()
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders the configuration as a CUE document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// imagebender configuration file.\n\n")
	sb.WriteString(fmt.Sprintf("builder: %q\n", cfg.Builder))
	sb.WriteString(fmt.Sprintf("cache_tasks: %v\n", cfg.CacheTasks))
	sb.WriteString(fmt.Sprintf("store_path: %q\n", cfg.StorePath))
	sb.WriteString("\nui: {\n")
	sb.WriteString(fmt.Sprintf("\tverbose: %v\n", cfg.UI.Verbose))
	sb.WriteString(fmt.Sprintf("\tdebug: %v\n", cfg.UI.Debug))
	sb.WriteString("}\n")

	return sb.String()
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
