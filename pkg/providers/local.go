package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

// LocalGitRepoProvider opens repositories that already exist on disk.
type LocalGitRepoProvider struct {
	logger *zap.SugaredLogger
}

// NewLocalGitRepoProvider returns a provider for working copies and bare
// repositories on the local filesystem.
func NewLocalGitRepoProvider(logger *zap.SugaredLogger) GitRepoProvider {
	return &LocalGitRepoProvider{logger: logger}
}

// FetchRepo opens the repository at path. Subdirectories of a working copy
// are accepted too.
func (p *LocalGitRepoProvider) FetchRepo(_ context.Context, path string) (GitRepo, error) {
	p.logger.Debugw("opening local repository", "path", path)

	// bare repositories are only found without .git detection
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
			DetectDotGit: true,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("could not open local repo %s: %w", path, err)
	}

	return &unownedRepo{location: path, repo: repo}, nil
}
