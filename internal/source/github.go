package source

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"linktracker/internal/domain"
)

// githubCommitsRe matches commit-feed URLs like
// https://github.com/{owner}/{repo}/commits, optionally with a branch suffix.
var githubCommitsRe = regexp.MustCompile(
	`^https://github\.com/([^/]+)/([^/]+)/commits(?:/[^/]+)?/?$`)

const githubAPIBase = "https://api.github.com"

type GitHubClient struct {
	client HTTPClient
	log    *slog.Logger

	apiBase string
}

func NewGitHubClient(client HTTPClient, log *slog.Logger) *GitHubClient {
	return &GitHubClient{
		client:  client,
		log:     log,
		apiBase: githubAPIBase,
	}
}

type githubCommit struct {
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// Fetch returns a snapshot of the repository's latest commit. The marker is
// the commit date with the ISO 8601 'T' and 'Z' markers stripped.
func (c *GitHubClient) Fetch(
	ctx context.Context,
	rawURL string,
	filters []string,
) (*domain.ActivitySnapshot, error) {
	m := githubCommitsRe.FindStringSubmatch(strings.TrimSpace(rawURL))
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrURLUnsupported, rawURL)
	}

	owner := m[1]
	repo := m[2]

	params, err := filterParams(filters)
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/commits", c.apiBase, owner, repo)

	var commits []githubCommit
	if err := fetchJSON(ctx, c.client, apiURL, params, &commits); err != nil {
		return nil, fmt.Errorf("fetch commits: %w", err)
	}

	if len(commits) == 0 {
		return nil, fmt.Errorf("%w: no commits in %s/%s", ErrResourceNotFound, owner, repo)
	}

	latest := commits[0]
	marker := strings.NewReplacer("T", " ", "Z", "").Replace(latest.Commit.Author.Date)

	c.log.DebugContext(ctx, "Fetched latest commit",
		"owner", owner,
		"repo", repo,
		"marker", marker)

	return &domain.ActivitySnapshot{
		Marker: marker,
		Author: latest.Commit.Author.Name,
		Title:  latest.Commit.Message,
	}, nil
}
