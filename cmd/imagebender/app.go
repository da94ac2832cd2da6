// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"log/slog"
	"os"

	"github.com/charmbracelet/log"

	"imagebender/internal/app"
	"imagebender/internal/store"
)

// newLogger builds the slog logger used by all commands. Level follows the
// --debug and --verbose flags.
func newLogger() *slog.Logger {
	level := log.WarnLevel
	if verbose {
		level = log.InfoLevel
	}
	if debug {
		level = log.DebugLevel
	}
	return slog.New(log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "imagebender",
		Level:  level,
	}))
}

// loadApp opens the build store and wires up the orchestrator. The caller
// owns the returned store and must close it.
func loadApp() (*app.Application, *store.Store, error) {
	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	a := app.New(s, newLogger(),
		app.WithDebug(debug),
		app.WithVerbose(verbose),
	)
	return a, s, nil
}
