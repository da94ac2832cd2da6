// SPDX-License-Identifier: MPL-2.0

package app

import (
	"errors"
	"fmt"

	"imagebender/internal/build"
	"imagebender/internal/store"
)

// GetBuild returns the build with the given id, or the latest build when the
// id is empty.
func (a *Application) GetBuild(buildID string) (*build.Build, error) {
	var (
		b   *build.Build
		err error
	)
	if buildID == "" {
		b, err = a.store.LatestBuild()
	} else {
		b, err = a.store.GetBuild(buildID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("build %q: %w", buildID, ErrResourceNotFound)
	}
	return b, err
}

// ListBuilds returns all builds ordered by creation.
func (a *Application) ListBuilds() ([]*build.Build, error) {
	return a.store.ListBuilds()
}

// GetLogs returns the captured output lines of a build (latest when the id
// is empty).
func (a *Application) GetLogs(buildID string) ([]string, error) {
	b, err := a.GetBuild(buildID)
	if err != nil {
		return nil, err
	}
	return b.LogLines, nil
}

// Inspect returns the redacted detail view of a build (latest when the id
// is empty). Log lines have a dedicated query and are not part of the view.
func (a *Application) Inspect(buildID string) (build.Detail, error) {
	b, err := a.GetBuild(buildID)
	if err != nil {
		return build.Detail{}, err
	}
	return b.Detail(), nil
}
