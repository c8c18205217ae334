// package github crawls the commit activity of a GitHub user by walking the
// branch graphs of their repositories through the REST API.
package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v54/github"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/walker"
)

// CommitCache keeps commit lookups between crawls of the same repositories.
// A commit never changes once pushed, so entries are only dropped when the
// cache is full.
type CommitCache struct {
	nodes *lru.Cache[string, walker.Node]
}

// NewCommitCache returns a cache holding up to size commits.
func NewCommitCache(size int) (*CommitCache, error) {
	nodes, err := lru.New[string, walker.Node](size)
	if err != nil {
		return nil, err
	}
	return &CommitCache{nodes: nodes}, nil
}

func (c *CommitCache) get(owner, name, sha string) (walker.Node, bool) {
	if c == nil {
		return walker.Node{}, false
	}
	return c.nodes.Get(owner + "/" + name + "@" + sha)
}

func (c *CommitCache) add(owner, name, sha string, node walker.Node) {
	if c == nil {
		return
	}
	c.nodes.Add(owner+"/"+name+"@"+sha, node)
}

// Len returns the number of cached commits.
func (c *CommitCache) Len() int {
	return c.nodes.Len()
}

// RepoGraph exposes one repository's branch and commit graph to the walker.
type RepoGraph struct {
	client  *GithubClient
	owner   string
	name    string
	repo    activity.Repo
	commits *CommitCache
}

// NewRepoGraph returns the graph of owner/name. repo is attached to every
// commit read through the graph.
func NewRepoGraph(client *GithubClient, owner, name string, repo activity.Repo) *RepoGraph {
	return &RepoGraph{client: client, owner: owner, name: name, repo: repo}
}

// WithCommitCache makes the graph consult and fill cache on commit lookups.
func (g *RepoGraph) WithCommitCache(cache *CommitCache) *RepoGraph {
	g.commits = cache
	return g
}

// Heads returns the head commit of every branch.
func (g *RepoGraph) Heads(ctx context.Context) ([]string, error) {
	branches, err := g.client.ListBranches(ctx, g.owner, g.name)
	if err != nil {
		return nil, err
	}

	heads := make([]string, 0, len(branches))
	for _, b := range branches {
		if sha := b.GetCommit().GetSHA(); sha != "" {
			heads = append(heads, sha)
		}
	}
	return heads, nil
}

// Commit looks up a commit and its parents.
func (g *RepoGraph) Commit(ctx context.Context, id string) (walker.Node, error) {
	if node, ok := g.commits.get(g.owner, g.name, id); ok {
		// the repository context may have changed since the lookup
		node.Commit.Repo = g.repo
		return node, nil
	}

	rc, err := g.client.GetCommit(ctx, g.owner, g.name, id)
	if err != nil {
		return walker.Node{}, err
	}

	parents := make([]string, 0, len(rc.Parents))
	for _, p := range rc.Parents {
		parents = append(parents, p.GetSHA())
	}

	node := walker.Node{
		Commit:  Normalize(g.repo, rc),
		Parents: parents,
	}
	g.commits.add(g.owner, g.name, id, node)
	return node, nil
}

// RepoContext returns the activity view of a repository.
func RepoContext(r *github.Repository) activity.Repo {
	public := !r.GetPrivate()
	if v := r.GetVisibility(); v != "" {
		public = v == "public"
	}

	return activity.Repo{
		Name:   r.GetName(),
		URL:    r.GetHTMLURL(),
		Public: public,
	}
}

// Normalize maps a GitHub commit into the activity model.
func Normalize(repo activity.Repo, rc *github.RepositoryCommit) activity.Commit {
	c := rc.GetCommit()
	author := c.GetAuthor()
	committer := c.GetCommitter()

	return activity.Commit{
		ID:      rc.GetSHA(),
		Title:   activity.Title(c.GetMessage()),
		Message: c.GetMessage(),
		URL:     rc.GetHTMLURL(),
		Author: activity.Signature{
			Identity: activity.Identity{Name: author.GetName(), Email: author.GetEmail()},
			Time:     author.GetDate().Time,
		},
		Committer: activity.Signature{
			Identity: activity.Identity{Name: committer.GetName(), Email: committer.GetEmail()},
			Time:     committer.GetDate().Time,
		},
		Repo: repo,
	}
}

// SourceOptions selects the repositories a Source crawls.
type SourceOptions struct {
	// Username owns the crawled repositories.
	Username string

	// Orgs are organizations whose repositories are crawled as well.
	Orgs []string

	// SkipArchived leaves archived repositories out.
	SkipArchived bool

	// Commits is shared between crawls when set.
	Commits *CommitCache
}

// Source fetches an author's commits from GitHub repositories.
type Source struct {
	client *GithubClient
	opts   SourceOptions
	logger *zap.SugaredLogger
}

// NewSource returns a Source crawling through client.
func NewSource(client *GithubClient, opts SourceOptions, logger *zap.SugaredLogger) *Source {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Source{client: client, opts: opts, logger: logger}
}

// Name identifies the source in logs and errors.
func (s *Source) Name() string {
	return "github"
}

// Fetch walks every selected repository one after another.
func (s *Source) Fetch(ctx context.Context, q activity.Query) ([]activity.Commit, error) {
	repos, err := s.repositories(ctx, q)
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("Crawling %d GitHub repositories", len(repos))

	filter := walker.Filter{AuthorName: q.AuthorName, After: q.After}

	var commits []activity.Commit
	for _, r := range repos {
		s.logger.Infof("processing GitHub repo: %s", r.GetName())

		g := NewRepoGraph(s.client, r.GetOwner().GetLogin(), r.GetName(), RepoContext(r)).WithCommitCache(s.opts.Commits)
		res, err := walker.Walk(ctx, g, filter)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", r.GetFullName(), err)
		}
		s.logger.Debugf("Visited %d commits of %s, %d authored by %s", res.Visited, r.GetFullName(), len(res.Commits), q.AuthorName)

		commits = append(commits, res.Commits...)
	}

	return commits, nil
}

func (s *Source) repositories(ctx context.Context, q activity.Query) ([]*github.Repository, error) {
	all, err := s.client.ListUserRepos(ctx, s.opts.Username)
	if err != nil {
		return nil, fmt.Errorf("could not list repositories of %s: %w", s.opts.Username, err)
	}

	for _, org := range s.opts.Orgs {
		repos, err := s.client.ListReposByOrg(ctx, org)
		if err != nil {
			return nil, fmt.Errorf("could not list repositories of %s: %w", org, err)
		}
		all = append(all, repos...)
	}

	if s.opts.SkipArchived {
		all = FilterArchivedRepos(all)
	}

	seen := make(map[string]struct{})
	var selected []*github.Repository
	for _, r := range all {
		key := r.GetFullName()
		if key == "" {
			key = r.GetOwner().GetLogin() + "/" + r.GetName()
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		if q.Repos.Match(r.GetName()) {
			selected = append(selected, r)
		}
	}
	return selected, nil
}
