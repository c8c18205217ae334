// package gitsource crawls commit activity from plain git repositories,
// either local paths or remote URLs, through go-git.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/common"
	"github.com/open-sauced/pizza/crawler/pkg/providers"
	"github.com/open-sauced/pizza/crawler/pkg/walker"
)

// Graph exposes a go-git repository to the walker.
type Graph struct {
	repo *git.Repository
	rc   activity.Repo
}

// NewGraph returns the graph of repo. rc is attached to every commit read
// through the graph.
func NewGraph(repo *git.Repository, rc activity.Repo) *Graph {
	return &Graph{repo: repo, rc: rc}
}

// Heads returns the commits of all local and remote-tracking branches, each
// commit once.
func (g *Graph) Heads(_ context.Context) ([]string, error) {
	refs, err := g.repo.References()
	if err != nil {
		return nil, fmt.Errorf("could not list references: %w", err)
	}
	defer refs.Close()

	seen := make(map[plumbing.Hash]struct{})
	var heads []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		if !ref.Name().IsBranch() && !ref.Name().IsRemote() {
			return nil
		}
		if _, ok := seen[ref.Hash()]; ok {
			return nil
		}
		seen[ref.Hash()] = struct{}{}
		heads = append(heads, ref.Hash().String())
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("could not iterate references: %w", err)
	}

	return heads, nil
}

// Commit looks up a commit and its parents. Missing objects, as in shallow
// clones, map to activity.ErrNotFound.
func (g *Graph) Commit(_ context.Context, id string) (walker.Node, error) {
	c, err := g.repo.CommitObject(plumbing.NewHash(id))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return walker.Node{}, activity.ErrNotFound
		}
		return walker.Node{}, err
	}

	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}

	return walker.Node{
		Commit:  Normalize(g.rc, c),
		Parents: parents,
	}, nil
}

// Normalize maps a go-git commit into the activity model. Commits only get a
// URL when the repository is served over https.
func Normalize(rc activity.Repo, c *object.Commit) activity.Commit {
	id := c.Hash.String()

	var commitURL string
	if u, err := url.Parse(rc.URL); err == nil && u.Scheme == "https" {
		commitURL = rc.URL + "/commit/" + id
	}

	return activity.Commit{
		ID:      id,
		Title:   activity.Title(c.Message),
		Message: c.Message,
		URL:     commitURL,
		Author: activity.Signature{
			Identity: activity.Identity{Name: c.Author.Name, Email: c.Author.Email},
			Time:     c.Author.When,
		},
		Committer: activity.Signature{
			Identity: activity.Identity{Name: c.Committer.Name, Email: c.Committer.Email},
			Time:     c.Committer.When,
		},
		Repo: rc,
	}
}

// RepoSpec is one configured repository.
type RepoSpec struct {
	// Location is a local path or a remote URL.
	Location string `yaml:"location" json:"location"`

	// Name overrides the name derived from Location.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Public overrides the visibility derived from Location.
	Public *bool `yaml:"public,omitempty" json:"public,omitempty"`
}

// RepoContext derives the activity view of a configured repository. Remote
// https repositories count as public unless configured otherwise.
func RepoContext(spec RepoSpec) activity.Repo {
	rc := activity.Repo{
		Name: spec.Name,
	}
	if rc.Name == "" {
		rc.Name = common.RepoName(spec.Location)
	}

	if common.IsRemote(spec.Location) {
		if normalized, err := common.NormalizeGitURL(spec.Location); err == nil {
			rc.URL = normalized
			if u, err := url.Parse(normalized); err == nil {
				rc.Public = u.Scheme == "https"
			}
		}
	}

	if spec.Public != nil {
		rc.Public = *spec.Public
	}
	return rc
}

// Source fetches an author's commits from configured git repositories.
type Source struct {
	repos  []RepoSpec
	local  providers.GitRepoProvider
	remote providers.GitRepoProvider
	logger *zap.SugaredLogger
}

// NewSource returns a Source that opens local paths with local and remote
// URLs with remote. remote may be nil when only local paths are configured.
func NewSource(repos []RepoSpec, local, remote providers.GitRepoProvider, logger *zap.SugaredLogger) *Source {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if local == nil {
		local = providers.NewLocalGitRepoProvider(logger)
	}
	return &Source{repos: repos, local: local, remote: remote, logger: logger}
}

// Name identifies the source in logs and errors.
func (s *Source) Name() string {
	return "git"
}

// Fetch walks every configured repository one after another.
func (s *Source) Fetch(ctx context.Context, q activity.Query) ([]activity.Commit, error) {
	filter := walker.Filter{AuthorName: q.AuthorName, After: q.After}

	var commits []activity.Commit
	for _, spec := range s.repos {
		rc := RepoContext(spec)
		if !q.Repos.Match(rc.Name) {
			continue
		}

		s.logger.Infof("walking git repository: %s", spec.Location)

		res, err := s.walk(ctx, spec, rc, filter)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", spec.Location, err)
		}
		s.logger.Debugf("Visited %d commits of %s, %d authored by %s", res.Visited, spec.Location, len(res.Commits), q.AuthorName)

		commits = append(commits, res.Commits...)
	}

	return commits, nil
}

func (s *Source) walk(ctx context.Context, spec RepoSpec, rc activity.Repo, f walker.Filter) (walker.Result, error) {
	provider, location := s.local, spec.Location
	if common.IsRemote(spec.Location) {
		if s.remote == nil {
			return walker.Result{}, errors.New("no provider configured for remote repositories")
		}

		normalized, err := common.NormalizeGitURL(spec.Location)
		if err != nil {
			return walker.Result{}, err
		}
		provider, location = s.remote, normalized
	}

	repo, err := provider.FetchRepo(ctx, location)
	if err != nil {
		return walker.Result{}, err
	}
	defer repo.Done()

	return walker.Walk(ctx, NewGraph(repo.GetRepo(), rc), f)
}

// UnmarshalYAML accepts either a bare location string or a mapping.
func (s *RepoSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = RepoSpec{}
		return node.Decode(&s.Location)
	case yaml.MappingNode:
		type plain RepoSpec
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		if p.Location == "" {
			return fmt.Errorf("line %d: repository without location", node.Line)
		}
		*s = RepoSpec(p)
		return nil
	default:
		return fmt.Errorf("line %d: unsupported repository definition", node.Line)
	}
}
