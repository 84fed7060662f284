// Package github provides functionality for interacting with the GitHub API.
package github

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"

	"github.com/sevigo/testrunner/internal/config"
)

// newBaseTransport builds the unauthenticated part of the transport stack:
// ETag caching for conditional GETs underneath the secondary rate limit
// middleware, which sleeps when GitHub asks it to back off.
func newBaseTransport() http.RoundTripper {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	return github_ratelimit.NewClient(cacheTransport).Transport
}

// NewHTTPClient creates an http.Client authenticated either as a GitHub App
// installation or with a personal access token. Without credentials the
// client is anonymous.
func NewHTTPClient(cfg *config.GitHubConfig, logger *slog.Logger) (*http.Client, error) {
	base := newBaseTransport()

	switch {
	case cfg.AppID != 0:
		logger.Info("authenticating status client as GitHub App installation",
			"app_id", cfg.AppID, "installation_id", cfg.InstallationID)
		// ghinstallation refreshes the installation token before it expires.
		itr, err := ghinstallation.NewKeyFromFile(base, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub App transport from %s: %w", cfg.PrivateKeyPath, err)
		}
		return &http.Client{Transport: itr}, nil

	case cfg.Token != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		return &http.Client{Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, ts), Base: base}}, nil

	default:
		logger.Warn("no GitHub credentials configured, status pushes will be rejected upstream")
		return &http.Client{Transport: base}, nil
	}
}
