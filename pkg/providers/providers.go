// package providers hands out go-git repositories for a crawl. A repository
// is opened in place, cloned into memory or kept in an on-disk clone cache,
// and every one is released with Done once its history has been walked.
package providers

import (
	"context"

	"github.com/go-git/go-git/v5"
)

// GitRepoProvider resolves a repository location into an opened repository.
type GitRepoProvider interface {
	// FetchRepo opens the repository at location. Remote providers take a
	// clone URL, the local provider a filesystem path.
	FetchRepo(ctx context.Context, location string) (GitRepo, error)
}

// GitRepo is a repository checked out of a provider for the duration of one
// walk.
type GitRepo interface {
	// GetRepo returns the go-git handle to walk.
	GetRepo() *git.Repository

	// Location is what the repository was fetched by.
	Location() string

	// Done hands the repository back. Callers must not touch the go-git
	// handle afterwards.
	Done()
}

// unownedRepo is a repository the provider keeps no state for, so handing
// it back does nothing.
type unownedRepo struct {
	location string
	repo     *git.Repository
}

func (r *unownedRepo) GetRepo() *git.Repository {
	return r.repo
}

func (r *unownedRepo) Location() string {
	return r.location
}

func (r *unownedRepo) Done() {}
