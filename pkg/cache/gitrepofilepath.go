package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
)

// branchRefSpec mirrors every remote branch into the bare clone.
const branchRefSpec = config.RefSpec("+refs/heads/*:refs/heads/*")

// GitRepoFilePath is a key / value pair with a locking mutex which represents
// the key to a git repository (the normalized remote URL) and its bare clone
// on disk. This is used as the primary element in GitRepoLRUCache.
//
// When processing and operations are completed for an individual GitRepoFilePath,
// always call "Done" to ensure no deadlocks occur on individual elements within
// a given GitRepoLRUCache.
type GitRepoFilePath struct {
	// lock ensures that on-disk git repos are not modified during processing.
	lock sync.Mutex

	key  string
	path string
}

// Key is the remote URL the element was cached for.
func (g *GitRepoFilePath) Key() string {
	return g.key
}

// Path is the on-disk location of the bare clone.
func (g *GitRepoFilePath) Path() string {
	return g.path
}

// Open opens the cached repository without contacting the remote.
func (g *GitRepoFilePath) Open() (*git.Repository, error) {
	return git.PlainOpen(g.path)
}

// OpenAndFetch opens the cached repository and fetches every branch from
// origin. git.NoErrAlreadyUpToDate is not treated as an error.
func (g *GitRepoFilePath) OpenAndFetch(ctx context.Context) (*git.Repository, error) {
	repo, err := g.Open()
	if err != nil {
		return nil, err
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []config.RefSpec{branchRefSpec},
		Tags:       git.NoTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil, err
	}

	return repo, nil
}

// Done is a thin wrapper for unlocking the GitRepoFilePath's mutex.
// This should ALWAYS be called when operations and processing for this
// individual on-disk repo are completed in order to prevent a deadlock.
func (g *GitRepoFilePath) Done() {
	g.lock.Unlock()
}
