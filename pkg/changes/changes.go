// Package changes detects which files changed in the commit a run is
// processing. Two sources are supported: a local git checkout and the GitHub
// commits API for checkout-less CI runs.
package changes

import "context"

// Detector supplies the changed-file list for changed-mode runs.
type Detector interface {
	ChangedFiles(ctx context.Context) ([]string, error)
}
