package providers

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	"go.uber.org/zap"
)

// InMemoryGitRepoProvider clones remote repositories without touching disk.
// Nothing is reused between crawls, which suits one-off runs without a
// configured cache directory.
type InMemoryGitRepoProvider struct {
	logger *zap.SugaredLogger
}

func NewInMemoryGitRepoProvider(logger *zap.SugaredLogger) GitRepoProvider {
	return &InMemoryGitRepoProvider{logger: logger}
}

// FetchRepo clones url into memory. The crawl only needs commit history, so
// tags are skipped; every branch arrives as a remote-tracking reference.
func (p *InMemoryGitRepoProvider) FetchRepo(ctx context.Context, url string) (GitRepo, error) {
	p.logger.Debugw("cloning repository into memory", "url", url)

	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, &git.CloneOptions{
		URL:  url,
		Tags: git.NoTags,
	})
	if err != nil {
		return nil, fmt.Errorf("could not clone %s into memory: %w", url, err)
	}

	return &unownedRepo{location: url, repo: repo}, nil
}
