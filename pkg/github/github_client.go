package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v54/github"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
)

// GithubClient wraps the go-github REST client with the listing and lookup
// calls the crawler needs.
type GithubClient struct {
	client *github.Client
}

// NewTokenClient returns a client authenticating with a personal access token.
func NewTokenClient(ctx context.Context, token string) *GithubClient {
	s := &GithubClient{
		client: github.NewTokenClient(ctx, token),
	}
	return s
}

// NewClient returns a client using the provided http client, which is
// responsible for authentication if any.
func NewClient(httpClient *http.Client) *GithubClient {
	s := &GithubClient{
		client: github.NewClient(httpClient),
	}
	return s
}

// SetBaseURL points the client at another API root, e.g. GitHub Enterprise.
func (s *GithubClient) SetBaseURL(baseURL string) error {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid GitHub API URL %s: %w", baseURL, err)
	}
	s.client.BaseURL = u
	return nil
}

// ListReposByOrg returns every repository of an organization.
func (s *GithubClient) ListReposByOrg(ctx context.Context, org string) ([]*github.Repository, error) {
	opt := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	// get all pages of results
	var allRepos []*github.Repository
	for {
		repos, resp, err := s.client.Repositories.ListByOrg(ctx, org, opt)
		if err != nil {
			return allRepos, err
		}
		allRepos = append(allRepos, repos...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return allRepos, nil
}

// ListUserRepos returns every repository owned by a user.
func (s *GithubClient) ListUserRepos(ctx context.Context, user string) ([]*github.Repository, error) {
	opt := &github.RepositoryListOptions{
		Type:        "owner",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var allRepos []*github.Repository
	for {
		repos, resp, err := s.client.Repositories.List(ctx, user, opt)
		if err != nil {
			return allRepos, err
		}
		allRepos = append(allRepos, repos...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return allRepos, nil
}

// GetRepo looks up a single repository.
func (s *GithubClient) GetRepo(ctx context.Context, owner, name string) (*github.Repository, error) {
	repo, _, err := s.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, notFound(err)
	}
	return repo, nil
}

// AuthenticatedLogin returns the login of the token's owner.
func (s *GithubClient) AuthenticatedLogin(ctx context.Context) (string, error) {
	user, _, err := s.client.Users.Get(ctx, "")
	if err != nil {
		return "", err
	}
	return user.GetLogin(), nil
}

// ListBranches returns every branch of a repository.
func (s *GithubClient) ListBranches(ctx context.Context, owner, name string) ([]*github.Branch, error) {
	opt := &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var allBranches []*github.Branch
	for {
		branches, resp, err := s.client.Repositories.ListBranches(ctx, owner, name, opt)
		if err != nil {
			return nil, notFound(err)
		}
		allBranches = append(allBranches, branches...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return allBranches, nil
}

// ListBranchRefs returns the refs/heads/* references of a repository.
func (s *GithubClient) ListBranchRefs(ctx context.Context, owner, name string) ([]*github.Reference, error) {
	opt := &github.ReferenceListOptions{
		Ref:         "heads/",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var allRefs []*github.Reference
	for {
		refs, resp, err := s.client.Git.ListMatchingRefs(ctx, owner, name, opt)
		if err != nil {
			return nil, notFound(err)
		}
		allRefs = append(allRefs, refs...)
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return allRefs, nil
}

// GetCommit looks up a single commit including its parents.
func (s *GithubClient) GetCommit(ctx context.Context, owner, name, sha string) (*github.RepositoryCommit, error) {
	commit, _, err := s.client.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return nil, notFound(err)
	}
	return commit, nil
}

// notFound maps responses for absent or empty repositories to
// activity.ErrNotFound.
func notFound(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusConflict:
			return fmt.Errorf("%s: %w", ghErr.Message, activity.ErrNotFound)
		}
	}
	return err
}

// FilterArchivedRepos drops archived repositories.
func FilterArchivedRepos(repos []*github.Repository) []*github.Repository {
	var filteredRepos []*github.Repository
	for _, repo := range repos {
		if !repo.GetArchived() {
			filteredRepos = append(filteredRepos, repo)
		}
	}
	return filteredRepos
}
