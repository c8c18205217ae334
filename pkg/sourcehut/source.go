package sourcehut

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/graphql"
)

// headRef is the symbolic reference most repositories carry besides their
// branches.
const headRef = "HEAD"

// Source fetches the activity of an author from all repositories of the
// authenticated git.sr.ht user.
type Source struct {
	api    *API
	logger *zap.SugaredLogger
}

// NewSource returns a Source reading through api.
func NewSource(api *API, logger *zap.SugaredLogger) *Source {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Source{api: api, logger: logger}
}

// Name identifies the source in logs and errors.
func (s *Source) Name() string {
	return "sourcehut"
}

// Fetch walks the log of every reference of every repository. Each log is
// read newest first and abandoned at the first commit older than q.After.
// Commits reachable from several references are reported once.
func (s *Source) Fetch(ctx context.Context, q activity.Query) ([]activity.Commit, error) {
	var repos []Repository
	err := s.api.Repositories(ctx, func(r Repository) error {
		if q.Repos.Match(r.Name) {
			repos = append(repos, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not list repositories: %w", err)
	}

	var commits []activity.Commit
	for _, repo := range repos {
		s.logger.Infof("processing sourcehut repo: %s", repo.Name)

		found, err := s.fetchRepository(ctx, repo, q)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", repo, err)
		}
		commits = append(commits, found...)
	}

	return commits, nil
}

func (s *Source) fetchRepository(ctx context.Context, repo Repository, q activity.Query) ([]activity.Commit, error) {
	refs, err := s.api.Refs(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("could not list references: %w", err)
	}

	seen := make(map[string]struct{})
	var commits []activity.Commit

	for _, ref := range sortedRefs(refs) {
		if ref.Name == headRef {
			if _, symbolic := refs[ref.Target]; symbolic {
				continue
			}
		}

		s.logger.Debugf("Reading log of %s from %s", ref.Name, ref.Target)
		err := s.api.Log(ctx, repo, ref.Target, func(c Commit) error {
			if !q.After.IsZero() && c.Author.Time.Before(q.After) {
				return graphql.ErrStop
			}
			if _, ok := seen[c.ID]; ok {
				return nil
			}
			seen[c.ID] = struct{}{}

			if c.Author.Name != q.AuthorName {
				return nil
			}
			commits = append(commits, Normalize(repo, c))
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("could not read log of %s: %w", ref.Name, err)
		}
	}

	return commits, nil
}

// Normalize maps a git.sr.ht commit into the activity model.
func Normalize(repo Repository, c Commit) activity.Commit {
	return activity.Commit{
		ID:      c.ID,
		Title:   activity.Title(c.Message),
		Message: c.Message,
		URL:     repo.URL + "/commit/" + c.ID,
		Author: activity.Signature{
			Identity: activity.Identity{Name: c.Author.Name, Email: c.Author.Email},
			Time:     c.Author.Time,
		},
		Committer: activity.Signature{
			Identity: activity.Identity{Name: c.Committer.Name, Email: c.Committer.Email},
			Time:     c.Committer.Time,
		},
		Repo: activity.Repo{
			Name:   repo.Name,
			URL:    repo.URL,
			Public: repo.Visibility == VisibilityPublic,
		},
	}
}

func sortedRefs(refs map[string]Ref) []Ref {
	sorted := make([]Ref, 0, len(refs))
	for _, ref := range refs {
		sorted = append(sorted, ref)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}
