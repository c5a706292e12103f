package changes

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"
)

// gitDetector diffs HEAD against its first parent in a local checkout.
type gitDetector struct {
	log      logrus.FieldLogger
	repoPath string
}

// Ensure gitDetector implements Detector.
var _ Detector = (*gitDetector)(nil)

// NewGitDetector creates a Detector backed by a local git repository.
func NewGitDetector(log logrus.FieldLogger, repoPath string) Detector {
	return &gitDetector{
		log:      log.WithField("component", "changes.git"),
		repoPath: repoPath,
	}
}

// ChangedFiles returns the paths touched by the HEAD commit. A root commit
// yields every file in its tree.
func (d *gitDetector) ChangedFiles(ctx context.Context) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(d.repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit: %w", err)
	}

	log := d.log.WithField("commit", commit.Hash.String()[:7])

	if commit.NumParents() == 0 {
		files, err := listCommitFiles(commit)
		if err != nil {
			return nil, err
		}

		log.WithField("count", len(files)).Info("Root commit, treating every file as changed")

		return files, nil
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("reading parent commit: %w", err)
	}

	patch, err := parent.PatchContext(ctx, commit)
	if err != nil {
		return nil, fmt.Errorf("diffing against parent: %w", err)
	}

	var files []string

	for _, fp := range patch.FilePatches() {
		_, to := fp.Files()

		// Deletions have no destination and nothing to import.
		if to == nil {
			continue
		}

		files = append(files, to.Path())
	}

	log.WithField("count", len(files)).Info("Detected changed files")

	return files, nil
}

// listCommitFiles enumerates every file in a commit's tree.
func listCommitFiles(commit *object.Commit) ([]string, error) {
	iter, err := commit.Files()
	if err != nil {
		return nil, fmt.Errorf("listing commit files: %w", err)
	}

	defer iter.Close()

	var files []string

	err = iter.ForEach(func(f *object.File) error {
		files = append(files, f.Name)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterating commit files: %w", err)
	}

	return files, nil
}
