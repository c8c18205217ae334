package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/open-sauced/pizza/crawler/pkg/common"
	"github.com/open-sauced/pizza/crawler/pkg/gitsource"
	"github.com/open-sauced/pizza/crawler/pkg/github"
	"github.com/open-sauced/pizza/crawler/pkg/graphql"
	"github.com/open-sauced/pizza/crawler/pkg/providers"
	"github.com/open-sauced/pizza/crawler/pkg/sourcehut"
	"github.com/open-sauced/pizza/crawler/pkg/tokens"
)

// GitHubConfig enables the GitHub source.
type GitHubConfig struct {
	// Username owns the crawled repositories. Empty disables the source.
	Username string

	// Orgs are organizations crawled in addition to the user's repositories.
	Orgs []string

	SkipArchived bool

	// Token authenticates the REST client. ErrNoToken falls back to
	// unauthenticated requests.
	Token tokens.Func

	// APIURL overrides the REST API root, e.g. for GitHub Enterprise.
	APIURL string

	// HTTPClient replaces the token authenticated client when set.
	HTTPClient *http.Client

	// CommitCache is shared by every crawl built with this configuration.
	CommitCache *github.CommitCache
}

// SourcehutConfig enables the sourcehut source.
type SourcehutConfig struct {
	Enabled bool

	// Endpoint is the GraphQL endpoint, sourcehut.DefaultEndpoint when empty.
	Endpoint string

	// WebURL is the base of repository URLs, sourcehut.DefaultWebURL when empty.
	WebURL string

	Token      tokens.Func
	HTTPClient *http.Client
}

// GitConfig enables the plain git source.
type GitConfig struct {
	// Repos are the repositories to walk. None disables the source.
	Repos []gitsource.RepoSpec

	// CacheDir keeps bare clones of remote repositories between runs. Remote
	// repositories are cloned into memory when empty.
	CacheDir string

	// MinFreeDiskGb is the free disk the clone cache keeps.
	MinFreeDiskGb uint64

	// NeverEvict are remote URLs the clone cache keeps regardless of disk.
	NeverEvict []string
}

// Sources configures every source. A nil or disabled entry contributes
// nothing and is never contacted.
type Sources struct {
	GitHub    *GitHubConfig
	Sourcehut *SourcehutConfig
	Git       *GitConfig
}

// Build instantiates the enabled sources.
func Build(ctx context.Context, cfg Sources, logger *zap.SugaredLogger) ([]Source, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var sources []Source

	if gh := cfg.GitHub; gh != nil && gh.Username != "" {
		src, err := buildGitHub(ctx, gh, logger)
		if err != nil {
			return nil, fmt.Errorf("github: %w", err)
		}
		sources = append(sources, src)
	}

	if sh := cfg.Sourcehut; sh != nil && sh.Enabled {
		sources = append(sources, buildSourcehut(sh, logger))
	}

	if gc := cfg.Git; gc != nil && len(gc.Repos) > 0 {
		src, err := buildGit(gc, logger)
		if err != nil {
			return nil, fmt.Errorf("git: %w", err)
		}
		sources = append(sources, src)
	}

	return sources, nil
}

// GitHubClient returns the REST client described by cfg.
func GitHubClient(ctx context.Context, cfg *GitHubConfig, logger *zap.SugaredLogger) (*github.GithubClient, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var client *github.GithubClient

	switch {
	case cfg.HTTPClient != nil:
		client = github.NewClient(cfg.HTTPClient)
	case cfg.Token != nil:
		token, err := cfg.Token()
		switch {
		case errors.Is(err, tokens.ErrNoToken):
			logger.Warnf("No GitHub token found, using unauthenticated requests: %s", err.Error())
			client = github.NewClient(nil)
		case err != nil:
			return nil, err
		default:
			client = github.NewTokenClient(ctx, token)
		}
	default:
		client = github.NewClient(nil)
	}

	if cfg.APIURL != "" {
		if err := client.SetBaseURL(cfg.APIURL); err != nil {
			return nil, err
		}
	}
	return client, nil
}

func buildGitHub(ctx context.Context, cfg *GitHubConfig, logger *zap.SugaredLogger) (Source, error) {
	client, err := GitHubClient(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return github.NewSource(client, github.SourceOptions{
		Username:     cfg.Username,
		Orgs:         cfg.Orgs,
		SkipArchived: cfg.SkipArchived,
		Commits:      cfg.CommitCache,
	}, logger), nil
}

func buildSourcehut(cfg *SourcehutConfig, logger *zap.SugaredLogger) Source {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = sourcehut.DefaultEndpoint
	}

	client := graphql.NewClient(endpoint, cfg.Token, cfg.HTTPClient, logger)
	return sourcehut.NewSource(sourcehut.NewAPI(client, cfg.WebURL, logger), logger)
}

func buildGit(cfg *GitConfig, logger *zap.SugaredLogger) (Source, error) {
	remote := providers.NewInMemoryGitRepoProvider(logger)
	if cfg.CacheDir != "" {
		neverEvict := providers.NeverEvictRepos{}
		for _, u := range cfg.NeverEvict {
			// Cache keys are normalized URLs
			if normalized, err := common.NormalizeGitURL(u); err == nil {
				u = normalized
			}
			neverEvict[u] = true
		}

		var err error
		remote, err = providers.NewLRUCacheGitRepoProvider(cfg.CacheDir, cfg.MinFreeDiskGb, logger, neverEvict)
		if err != nil {
			return nil, err
		}
	}

	return gitsource.NewSource(cfg.Repos, providers.NewLocalGitRepoProvider(logger), remote, logger), nil
}
