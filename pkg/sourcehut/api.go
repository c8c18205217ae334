// package sourcehut reads repositories, references and commit logs from the
// git.sr.ht GraphQL API.
package sourcehut

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/graphql"
)

// DefaultEndpoint is the public git.sr.ht GraphQL endpoint.
const DefaultEndpoint = "https://git.sr.ht/query"

// DefaultWebURL is the base of repository web URLs.
const DefaultWebURL = "https://git.sr.ht"

// Visibility values of a repository.
const (
	VisibilityPublic   = "PUBLIC"
	VisibilityUnlisted = "UNLISTED"
	VisibilityPrivate  = "PRIVATE"
)

// API wraps a GraphQL client with the git.sr.ht queries.
type API struct {
	client *graphql.Client
	webURL string
	logger *zap.SugaredLogger
}

// NewAPI returns an API using the client. Repository URLs are built from
// webURL, DefaultWebURL when empty.
func NewAPI(client *graphql.Client, webURL string, logger *zap.SugaredLogger) *API {
	if webURL == "" {
		webURL = DefaultWebURL
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &API{
		client: client,
		webURL: strings.TrimSuffix(webURL, "/"),
		logger: logger,
	}
}

// Repository is a git.sr.ht repository.
type Repository struct {
	Name        string
	Description string
	Visibility  string
	Owner       string
	URL         string
}

// String returns owner/name.
func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// Ref is a named pointer into a repository's commit graph.
type Ref struct {
	Name   string `json:"name"`
	Target string `json:"target"`
}

// Commit is a commit as returned by the log query.
type Commit struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Author    Signature `json:"author"`
	Committer Signature `json:"committer"`
}

// Signature is the author or committer of a Commit.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Time  time.Time `json:"time"`
}

type rawRepository struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Owner       struct {
		CanonicalName string `json:"canonicalName"`
		Username      string `json:"username"`
	} `json:"owner"`
}

func (a *API) repository(raw rawRepository) Repository {
	owner := raw.Owner.Username
	if owner == "" {
		owner = strings.TrimPrefix(raw.Owner.CanonicalName, "~")
	}

	return Repository{
		Name:        raw.Name,
		Description: raw.Description,
		Visibility:  raw.Visibility,
		Owner:       owner,
		URL:         a.webURL + "/" + raw.Owner.CanonicalName + "/" + raw.Name,
	}
}

// literal quotes s as a GraphQL string literal.
func literal(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted)
}

const repositoriesQuery = `{
	repositories(cursor: $cursor) {
		cursor
		results {
			name, description, visibility
			owner {
				canonicalName
				... on User {
					username
				}
			}
		}
	}
}`

// Repositories calls fn for every repository of the authenticated user.
func (a *API) Repositories(ctx context.Context, fn func(Repository) error) error {
	extract := func(data json.RawMessage) ([]Repository, json.RawMessage, error) {
		var d struct {
			Repositories json.RawMessage `json:"repositories"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, nil, err
		}

		var page struct {
			Results []rawRepository `json:"results"`
		}
		if len(d.Repositories) > 0 {
			if err := json.Unmarshal(d.Repositories, &page); err != nil {
				return nil, nil, err
			}
		}

		repos := make([]Repository, 0, len(page.Results))
		for _, raw := range page.Results {
			repos = append(repos, a.repository(raw))
		}
		return repos, d.Repositories, nil
	}

	return graphql.Paginate(ctx, a.client, repositoriesQuery, extract, fn)
}

const repositoryQuery = `{
	user(username: %s) {
		repository(name: %s) {
			name, description, visibility
			owner {
				canonicalName
				... on User {
					username
				}
			}
		}
	}
}`

// Repository looks up a single repository. It returns activity.ErrNotFound
// when the user or the repository does not exist.
func (a *API) Repository(ctx context.Context, owner, name string) (Repository, error) {
	data, err := a.client.Do(ctx, fmt.Sprintf(repositoryQuery, literal(owner), literal(name)))
	if err != nil {
		return Repository{}, err
	}

	var d struct {
		User *struct {
			Repository *rawRepository `json:"repository"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return Repository{}, fmt.Errorf("could not decode repository %s/%s: %w", owner, name, err)
	}
	if d.User == nil || d.User.Repository == nil {
		return Repository{}, fmt.Errorf("repository %s/%s: %w", owner, name, activity.ErrNotFound)
	}

	return a.repository(*d.User.Repository), nil
}

const referencesQuery = `{
	user(username: %s) {
		repository(name: %s) {
			references(cursor: $cursor) {
				cursor
				results {
					name, target
				}
			}
		}
	}
}`

// Refs returns the references of a repository keyed by name. A repository
// that vanished in the meantime has no references.
func (a *API) Refs(ctx context.Context, repo Repository) (map[string]Ref, error) {
	q := fmt.Sprintf(referencesQuery, literal(repo.Owner), literal(repo.Name))

	extract := func(data json.RawMessage) ([]Ref, json.RawMessage, error) {
		var d struct {
			User *struct {
				Repository *struct {
					References json.RawMessage `json:"references"`
				} `json:"repository"`
			} `json:"user"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, nil, err
		}
		if d.User == nil || d.User.Repository == nil {
			return nil, nil, nil
		}

		var page struct {
			Results []Ref `json:"results"`
		}
		if len(d.User.Repository.References) > 0 {
			if err := json.Unmarshal(d.User.Repository.References, &page); err != nil {
				return nil, nil, err
			}
		}
		return page.Results, d.User.Repository.References, nil
	}

	refs := make(map[string]Ref)
	err := graphql.Paginate(ctx, a.client, q, extract, func(ref Ref) error {
		refs[ref.Name] = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

const logQuery = `{
	user(username: %s) {
		repository(name: %s) {
			log(cursor: $cursor, from: %s) {
				cursor
				results {
					id, message
					author { name, email, time }
					committer { name, email, time }
				}
			}
		}
	}
}`

// Log calls fn for every commit reachable from the commit id from, newest
// first. fn may return graphql.ErrStop to end the log early.
func (a *API) Log(ctx context.Context, repo Repository, from string, fn func(Commit) error) error {
	q := fmt.Sprintf(logQuery, literal(repo.Owner), literal(repo.Name), literal(from))

	extract := func(data json.RawMessage) ([]Commit, json.RawMessage, error) {
		var d struct {
			User *struct {
				Repository *struct {
					Log json.RawMessage `json:"log"`
				} `json:"repository"`
			} `json:"user"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, nil, err
		}
		if d.User == nil || d.User.Repository == nil {
			return nil, nil, nil
		}

		var page struct {
			Results []Commit `json:"results"`
		}
		if len(d.User.Repository.Log) > 0 {
			if err := json.Unmarshal(d.User.Repository.Log, &page); err != nil {
				return nil, nil, err
			}
		}
		return page.Results, d.User.Repository.Log, nil
	}

	return graphql.Paginate(ctx, a.client, q, extract, fn)
}
