package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v73/github"

	"github.com/sevigo/testrunner/internal/config"
	"github.com/sevigo/testrunner/internal/core"
)

// maxDescriptionLength is the longest status description GitHub accepts.
const maxDescriptionLength = 140

// StatusClient writes commit statuses through the go-github client.
type StatusClient struct {
	client *github.Client
	logger *slog.Logger
}

var _ core.StatusClient = (*StatusClient)(nil)

// NewStatusClient creates a status client with the configured credentials.
func NewStatusClient(cfg *config.Config, logger *slog.Logger) (*StatusClient, error) {
	httpClient, err := NewHTTPClient(&cfg.GitHub, logger)
	if err != nil {
		return nil, err
	}
	return &StatusClient{client: github.NewClient(httpClient), logger: logger}, nil
}

// NewStatusClientWithHTTPClient creates a client against a custom API base
// URL, for GitHub Enterprise or an httptest server.
func NewStatusClientWithHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) (*StatusClient, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	client := github.NewClient(httpClient)
	client.BaseURL = u
	return &StatusClient{client: client, logger: logger}, nil
}

// CreateStatus sets the commit status for key. A 422 response means GitHub
// no longer knows the commit and is reported as core.ErrStatusTargetGone.
func (c *StatusClient) CreateStatus(ctx context.Context, key core.StatusKey, state, description, targetURL string) error {
	status := &github.RepoStatus{
		State:   github.Ptr(state),
		Context: github.Ptr(key.Context),
	}
	if description != "" {
		status.Description = github.Ptr(truncate(description, maxDescriptionLength))
	}
	if targetURL != "" {
		status.TargetURL = github.Ptr(targetURL)
	}

	_, resp, err := c.client.Repositories.CreateStatus(ctx, key.Owner, key.Repo, key.SHA, status)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("%w: %s: %w", core.ErrStatusTargetGone, key, err)
		}
		return fmt.Errorf("failed to create status %s: %w", key, err)
	}
	c.logger.Debug("pushed commit status", "status", key.String(), "state", state, "remaining", resp.Rate.Remaining)
	return nil
}

// CombinedStatus returns GitHub's combined view of all statuses for ref.
func (c *StatusClient) CombinedStatus(ctx context.Context, owner, repo, ref string) (*github.CombinedStatus, error) {
	var (
		combined *github.CombinedStatus
		opts     = &github.ListOptions{PerPage: 100}
	)
	for {
		page, resp, err := c.client.Repositories.GetCombinedStatus(ctx, owner, repo, ref, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to get combined status for %s/%s@%s: %w", owner, repo, ref, err)
		}
		if combined == nil {
			combined = page
		} else {
			combined.Statuses = append(combined.Statuses, page.Statuses...)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return combined, nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
