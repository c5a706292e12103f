package spec

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethpandaops/importoor/pkg/changes"
	"github.com/sirupsen/logrus"
)

// Discovery determines the candidate set of specification files for a run.
type Discovery interface {
	// DiscoverAll recursively enumerates every spec file under the root.
	DiscoverAll() ([]string, error)

	// DiscoverChanged filters the detector's changed-file list down to spec
	// files under the root.
	DiscoverChanged(ctx context.Context, detector changes.Detector) ([]string, error)
}

// discovery implements Discovery.
type discovery struct {
	log  logrus.FieldLogger
	root string
	exts map[string]struct{}
}

// Ensure discovery implements Discovery.
var _ Discovery = (*discovery)(nil)

// NewDiscovery creates a Discovery rooted at the specs directory.
func NewDiscovery(log logrus.FieldLogger, root string, extensions []string) Discovery {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}

	return &discovery{
		log:  log.WithField("component", "discovery"),
		root: filepath.Clean(root),
		exts: exts,
	}
}

// DiscoverAll walks the specs root and returns every recognized file, sorted
// for deterministic dispatch order.
func (d *discovery) DiscoverAll() ([]string, error) {
	var files []string

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		if d.recognized(path) {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking specs root: %w", err)
	}

	sort.Strings(files)

	d.log.WithFields(logrus.Fields{
		"root":  d.root,
		"count": len(files),
	}).Info("Discovered spec files")

	return files, nil
}

// DiscoverChanged returns the changed files that live under the specs root
// and carry a recognized extension. An empty result is a valid terminal
// state, not an error.
func (d *discovery) DiscoverChanged(ctx context.Context, detector changes.Detector) ([]string, error) {
	changed, err := detector.ChangedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("detecting changed files: %w", err)
	}

	var files []string

	for _, path := range changed {
		clean := filepath.Clean(path)
		if !underRoot(clean, d.root) {
			continue
		}

		if d.recognized(clean) {
			files = append(files, clean)
		}
	}

	sort.Strings(files)

	d.log.WithFields(logrus.Fields{
		"changed": len(changed),
		"matched": len(files),
	}).Info("Filtered changed files to spec candidates")

	return files, nil
}

// recognized reports whether the path carries one of the configured spec
// extensions.
func (d *discovery) recognized(path string) bool {
	_, ok := d.exts[strings.ToLower(filepath.Ext(path))]

	return ok
}

// underRoot reports whether path is the root or inside it.
func underRoot(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
