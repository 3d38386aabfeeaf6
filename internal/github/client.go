// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "repo-metadata-sync/internal/errors"
	"repo-metadata-sync/internal/model"
)

const (
	// perPage is the page size requested from every list endpoint (the API maximum).
	perPage = 100

	// maxCompareFiles is the most files the compare endpoint returns for one comparison.
	maxCompareFiles = 300
)

var (
	// ErrCompareCapped is returned by CompareFiles when the file list may have been cut off.
	ErrCompareCapped = errors.New("compare file list reached the API limit")

	// ErrTreeTruncated is returned by TreeFiles when the API did not list the whole tree.
	ErrTreeTruncated = errors.New("tree listing truncated by the API")
)

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is sent as a bearer token on every request.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// WithBaseURL points the client at another API root, e.g. a GitHub Enterprise
// server or a test double. An empty string keeps the public API.
func (c *Client) WithBaseURL(rawURL string) (*Client, error) {
	if rawURL == "" {
		return c, nil
	}
	if !strings.HasSuffix(rawURL, "/") {
		rawURL += "/"
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse GitHub API URL %q: %w", rawURL, err)
	}
	c.gh.BaseURL = u
	return c, nil
}

// ListAccountRepositories lists every repository of an organization. When the
// organization endpoint answers 404 for a page, the same page is requested once
// from the user endpoint instead.
func (c *Client) ListAccountRepositories(ctx context.Context, account string) ([]model.Repository, error) {
	repos, err := c.paginate(ctx, func(ctx context.Context, opts github.ListOptions) ([]*github.Repository, error) {
		c.logger.Debug("Fetching organization repositories page", "account", account, "page", opts.Page)
		repos, _, err := c.gh.Repositories.ListByOrg(ctx, account, &github.RepositoryListByOrgOptions{ListOptions: opts})
		if IsNotFound(err) {
			c.logger.Debug("Organization not found, falling back to user repositories", "account", account, "page", opts.Page)
			repos, _, err = c.gh.Repositories.ListByUser(ctx, account, &github.RepositoryListByUserOptions{ListOptions: opts})
		}
		return repos, err
	})
	if err != nil {
		return nil, fmt.Errorf("list repositories of %q: %w", account, err)
	}
	return repos, nil
}

// ListAccessibleRepositories lists every repository the token can see, across accounts.
func (c *Client) ListAccessibleRepositories(ctx context.Context) ([]model.Repository, error) {
	repos, err := c.paginate(ctx, func(ctx context.Context, opts github.ListOptions) ([]*github.Repository, error) {
		c.logger.Debug("Fetching accessible repositories page", "page", opts.Page)
		repos, _, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{ListOptions: opts})
		return repos, err
	})
	if err != nil {
		return nil, fmt.Errorf("list accessible repositories: %w", err)
	}
	return repos, nil
}

type pageFunc func(ctx context.Context, opts github.ListOptions) ([]*github.Repository, error)

// paginate requests pages 1..n until a page comes back empty or short.
func (c *Client) paginate(ctx context.Context, fetch pageFunc) ([]model.Repository, error) {
	var all []model.Repository

	for page := 1; ; page++ {
		repos, err := fetch(ctx, github.ListOptions{Page: page, PerPage: perPage})
		if err != nil {
			return nil, wrapError(err)
		}
		if len(repos) == 0 {
			break
		}
		for _, r := range repos {
			all = append(all, toInternalRepository(r))
		}
		if len(repos) < perPage {
			break
		}
	}

	return all, nil
}

// HeadCommit resolves the commit SHA at the tip of the repository's default
// branch. An empty repository yields an empty SHA and no error.
func (c *Client) HeadCommit(ctx context.Context, id model.RepoIdentifier) (string, error) {
	branch := id.DefaultBranch
	if branch == "" {
		repo, _, err := c.gh.Repositories.Get(ctx, id.Owner, id.Name)
		if err != nil {
			return "", fmt.Errorf("get repository %s: %w", id.FullName(), wrapError(err))
		}
		branch = repo.GetDefaultBranch()
	}

	ref, _, err := c.gh.Git.GetRef(ctx, id.Owner, id.Name, "heads/"+branch)
	if err != nil {
		if statusCode(err) == http.StatusConflict {
			c.logger.Debug("Repository is empty", "owner", id.Owner, "repo", id.Name)
			return "", nil
		}
		return "", fmt.Errorf("get ref heads/%s of %s: %w", branch, id.FullName(), wrapError(err))
	}
	return ref.GetObject().GetSHA(), nil
}

// TreeFiles lists the path of every blob reachable from the commit.
func (c *Client) TreeFiles(ctx context.Context, id model.RepoIdentifier, sha string) ([]string, error) {
	tree, _, err := c.gh.Git.GetTree(ctx, id.Owner, id.Name, sha, true)
	if err != nil {
		return nil, fmt.Errorf("get tree %s of %s: %w", sha, id.FullName(), wrapError(err))
	}
	if tree.GetTruncated() {
		return nil, fmt.Errorf("get tree %s of %s (%d entries): %w", sha, id.FullName(), len(tree.Entries), ErrTreeTruncated)
	}

	paths := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		paths = append(paths, entry.GetPath())
	}
	return paths, nil
}

// CompareFiles lists the files changed between two commits. A renamed file is
// reported under its new path plus a removal of its previous path. A list that
// reaches the API limit yields ErrCompareCapped instead of a partial result.
func (c *Client) CompareFiles(ctx context.Context, id model.RepoIdentifier, base, head string) ([]model.FileChange, error) {
	cmp, _, err := c.gh.Repositories.CompareCommits(ctx, id.Owner, id.Name, base, head, &github.ListOptions{PerPage: perPage})
	if err != nil {
		return nil, fmt.Errorf("compare %s...%s of %s: %w", base, head, id.FullName(), wrapError(err))
	}
	if len(cmp.Files) >= maxCompareFiles {
		return nil, fmt.Errorf("compare %s...%s of %s (%d files): %w", base, head, id.FullName(), len(cmp.Files), ErrCompareCapped)
	}

	changes := make([]model.FileChange, 0, len(cmp.Files))
	for _, f := range cmp.Files {
		status := model.ChangeStatus(f.GetStatus())
		changes = append(changes, model.FileChange{Path: f.GetFilename(), Status: status})
		if status == model.StatusRenamed && f.GetPreviousFilename() != "" {
			changes = append(changes, model.FileChange{Path: f.GetPreviousFilename(), Status: model.StatusRemoved})
		}
	}
	return changes, nil
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

func statusCode(err error) int {
	var apiErr *custom_errors.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// wrapError converts go-github response errors into APIError, keeping the
// status code and raw response body.
func wrapError(err error) error {
	var resp *http.Response
	message := ""

	var ghErr *github.ErrorResponse
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	switch {
	case errors.As(err, &ghErr):
		resp, message = ghErr.Response, ghErr.Message
	case errors.As(err, &rateErr):
		resp, message = rateErr.Response, rateErr.Message
	case errors.As(err, &abuseErr):
		resp, message = abuseErr.Response, abuseErr.Message
	}
	if resp == nil {
		return err
	}

	apiErr := &custom_errors.APIError{StatusCode: resp.StatusCode, Body: message}
	if resp.Request != nil && resp.Request.URL != nil {
		apiErr.URL = resp.Request.URL.String()
	}
	// go-github restores the body after decoding the error, so the raw text is still readable.
	if resp.Body != nil {
		if body, readErr := io.ReadAll(resp.Body); readErr == nil && len(body) > 0 {
			apiErr.Body = string(body)
		}
	}
	return apiErr
}

// toInternalRepository translates a github.Repository object to our internal model.Repository.
func toInternalRepository(r *github.Repository) model.Repository {
	return model.Repository{
		ID:            r.GetID(),
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
	}
}
