// package projects enriches a list of project definitions with metadata read
// from their GitHub repositories: branches, last activity, creation date and
// stars.
package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/github"
)

// ErrUnsupportedDefinition is returned for a project entry that is neither a
// repository name nor an object.
var ErrUnsupportedDefinition = errors.New("unsupported project definition")

// maxConcurrentLookups bounds the repositories enriched at the same time.
const maxConcurrentLookups = 4

// Project is one entry of a projects definition. A bare string entry is a
// Project with only Name set.
type Project struct {
	Name        string
	Description *string
	URL         *string

	// Extra holds every other key of an object entry. They are passed
	// through to the output unchanged.
	Extra map[string]any
}

// UnmarshalYAML accepts either a scalar repository name or a mapping with at
// least a name key.
func (p *Project) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag != "!!str" {
			return fmt.Errorf("line %d: %w: %s", node.Line, ErrUnsupportedDefinition, node.Value)
		}
		*p = Project{Name: node.Value}
		return nil
	case yaml.MappingNode:
		var fields map[string]any
		if err := node.Decode(&fields); err != nil {
			return err
		}
		if err := p.fromFields(fields); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		return nil
	default:
		return fmt.Errorf("line %d: %w", node.Line, ErrUnsupportedDefinition)
	}
}

// UnmarshalJSON accepts either a string repository name or an object with
// at least a name key. Numbers in extra keys keep their literal form.
func (p *Project) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*p = Project{Name: v}
		return nil
	case map[string]any:
		return p.fromFields(v)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedDefinition, data)
	}
}

func (p *Project) fromFields(fields map[string]any) error {
	name, ok := fields["name"].(string)
	if !ok || name == "" {
		return errors.New("project name must be a non-empty string")
	}

	*p = Project{Name: name, Extra: make(map[string]any)}
	for k, v := range fields {
		switch k {
		case "name":
		case "description":
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("description of %s must be a string", name)
			}
			p.Description = &s
		case "url":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("url of %s must be a string", name)
			}
			p.URL = &s
		default:
			p.Extra[k] = v
		}
	}
	return nil
}

// Decode reads a JSON or YAML list of project definitions.
func Decode(r io.Reader) ([]Project, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var projects []Project
	if json.Valid(raw) {
		if err := json.Unmarshal(raw, &projects); err != nil {
			return nil, fmt.Errorf("could not decode projects: %w", err)
		}
		return projects, nil
	}

	if err := yaml.Unmarshal(raw, &projects); err != nil {
		return nil, fmt.Errorf("could not decode projects: %w", err)
	}
	return projects, nil
}

// Load reads the projects definition at path.
func Load(path string) ([]Project, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}

// Branch is the head of a branch.
type Branch struct {
	Commit string `json:"commit"`
	Date   string `json:"date"`
}

// Metadata is a project enriched with repository information.
type Metadata struct {
	Project
	Branches     map[string]Branch
	LastActivity time.Time
	DateCreated  time.Time
	Stars        int
}

// MarshalJSON renders the metadata as one flat object. Extra keys are
// emitted first so the known fields always win.
func (m Metadata) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any, len(m.Extra)+7)
	for k, v := range m.Extra {
		fields[k] = v
	}

	fields["name"] = m.Name
	fields["description"] = m.Description
	fields["url"] = m.URL
	fields["branches"] = m.Branches
	fields["last_activity"] = m.LastActivity.Format(activity.DateLayout)
	fields["date_created"] = m.DateCreated.Format(activity.DateLayout)
	fields["stars"] = m.Stars

	return json.Marshal(fields)
}

// Enricher looks projects up on GitHub.
type Enricher struct {
	client *github.GithubClient
	owner  string
	logger *zap.SugaredLogger
}

// NewEnricher returns an Enricher resolving project names as owner/name.
// An empty owner is replaced by the authenticated user on first use.
func NewEnricher(client *github.GithubClient, owner string, logger *zap.SugaredLogger) *Enricher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Enricher{client: client, owner: owner, logger: logger}
}

// Owner returns the owner of the projects' repositories.
func (e *Enricher) Owner(ctx context.Context) (string, error) {
	if e.owner != "" {
		return e.owner, nil
	}

	login, err := e.client.AuthenticatedLogin(ctx)
	if err != nil {
		return "", fmt.Errorf("could not look up the authenticated user: %w", err)
	}
	e.owner = login
	return login, nil
}

// Enrich looks up a single project.
func (e *Enricher) Enrich(ctx context.Context, p Project) (Metadata, error) {
	owner, err := e.Owner(ctx)
	if err != nil {
		return Metadata{}, err
	}
	return e.enrich(ctx, owner, p)
}

func (e *Enricher) enrich(ctx context.Context, owner string, p Project) (Metadata, error) {
	e.logger.Infof("processing project: %s/%s", owner, p.Name)

	repo, err := e.client.GetRepo(ctx, owner, p.Name)
	if err != nil {
		return Metadata{}, fmt.Errorf("could not get repository %s/%s: %w", owner, p.Name, err)
	}

	m := Metadata{
		Project:      p,
		Branches:     make(map[string]Branch),
		LastActivity: time.Unix(0, 0).UTC(),
		DateCreated:  repo.GetCreatedAt().Time,
		Stars:        repo.GetStargazersCount(),
	}
	if m.Description == nil {
		m.Description = repo.Description
	}
	if m.URL == nil {
		u := repo.GetHTMLURL()
		m.URL = &u
	}

	refs, err := e.client.ListBranchRefs(ctx, owner, p.Name)
	if err != nil && !errors.Is(err, activity.ErrNotFound) {
		return Metadata{}, fmt.Errorf("could not list branches of %s/%s: %w", owner, p.Name, err)
	}

	for _, ref := range refs {
		name, ok := strings.CutPrefix(ref.GetRef(), "refs/heads/")
		if !ok {
			continue
		}

		sha := ref.GetObject().GetSHA()
		commit, err := e.client.GetCommit(ctx, owner, p.Name, sha)
		if err != nil {
			return Metadata{}, fmt.Errorf("could not get commit %s of %s/%s: %w", sha, owner, p.Name, err)
		}

		date := commit.GetCommit().GetAuthor().GetDate().Time
		if date.After(m.LastActivity) {
			m.LastActivity = date
		}
		m.Branches[name] = Branch{Commit: sha, Date: date.Format(activity.DateLayout)}
	}

	return m, nil
}

// EnrichAll looks up every project. The result keeps the input order; a
// later project with the same name replaces the earlier one in its place.
func (e *Enricher) EnrichAll(ctx context.Context, projects []Project) ([]Metadata, error) {
	owner, err := e.Owner(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Metadata, len(projects))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, p := range projects {
		i, p := i, p
		g.Go(func() error {
			m, err := e.enrich(ctx, owner, p)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dedupe(results), nil
}

func dedupe(all []Metadata) []Metadata {
	position := make(map[string]int, len(all))
	out := make([]Metadata, 0, len(all))
	for _, m := range all {
		if i, ok := position[m.Name]; ok {
			out[i] = m
			continue
		}
		position[m.Name] = len(out)
		out = append(out, m)
	}
	return out
}
