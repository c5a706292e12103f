package changes

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v60/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// githubDetector lists the files of a commit through the GitHub API, for
// runs that execute without a local checkout.
type githubDetector struct {
	log   logrus.FieldLogger
	gh    *github.Client
	owner string
	repo  string
	sha   string
}

// Ensure githubDetector implements Detector.
var _ Detector = (*githubDetector)(nil)

// NewGitHubDetector creates a Detector backed by the GitHub commits API.
// An empty token uses unauthenticated access.
func NewGitHubDetector(log logrus.FieldLogger, token, owner, repo, sha string) Detector {
	var httpClient *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	return &githubDetector{
		log:   log.WithField("component", "changes.github"),
		gh:    github.NewClient(httpClient),
		owner: owner,
		repo:  repo,
		sha:   sha,
	}
}

// ChangedFiles returns the files touched by the configured commit.
func (d *githubDetector) ChangedFiles(ctx context.Context) ([]string, error) {
	log := d.log.WithFields(logrus.Fields{
		"owner": d.owner,
		"repo":  d.repo,
		"sha":   d.sha,
	})

	var files []string

	opts := &github.ListOptions{PerPage: 100}

	for {
		commit, resp, err := d.gh.Repositories.GetCommit(ctx, d.owner, d.repo, d.sha, opts)
		if err != nil {
			return nil, fmt.Errorf("getting commit %s: %w", d.sha, err)
		}

		for _, f := range commit.Files {
			// Removed files have nothing to import.
			if f.GetStatus() == "removed" {
				continue
			}

			files = append(files, f.GetFilename())
		}

		if resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	log.WithField("count", len(files)).Info("Detected changed files")

	return files, nil
}
