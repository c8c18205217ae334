package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/crawler"
	"github.com/open-sauced/pizza/crawler/pkg/gitsource"
	"github.com/open-sauced/pizza/crawler/pkg/validator"
)

// DefaultDays is the default crawl window.
const DefaultDays = 7

// Crawl is one resolved crawl: who to look for, where and since when.
type Crawl struct {
	AuthorName string `yaml:"author-name"`

	// Days limits the crawl to commits authored within the last Days days.
	// 0 disables the window.
	Days int `yaml:"days"`

	// Timezone is an IANA zone the feed dates are rendered in. Empty keeps
	// every commit's own offset.
	Timezone string `yaml:"timezone"`

	GitHub GitHubCrawl `yaml:"github"`

	// Sourcehut enables the sourcehut source for the token's owner.
	Sourcehut bool `yaml:"sourcehut"`

	GitRepos []gitsource.RepoSpec `yaml:"git-repos"`

	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`

	// NeverEvictRepos are git remote URLs the clone cache never evicts.
	NeverEvictRepos []string `yaml:"never-evict-repos"`
}

// GitHubCrawl selects the GitHub repositories to crawl.
type GitHubCrawl struct {
	Username     string   `yaml:"username"`
	Orgs         []string `yaml:"orgs"`
	SkipArchived bool     `yaml:"skip-archived"`
}

// NewCrawl returns a Crawl with defaults applied.
func NewCrawl() Crawl {
	return Crawl{Days: DefaultDays}
}

// LoadCrawlFile reads a yaml crawl file on top of the defaults. Unknown keys
// are rejected.
func LoadCrawlFile(path string) (Crawl, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Crawl{}, fmt.Errorf("could not read yaml configuration file: %w", err)
	}

	c := NewCrawl()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Crawl{}, fmt.Errorf("could not unmarshal configuration file: %w", err)
	}
	return c, nil
}

// Check records every problem with the crawl in v.
func (c Crawl) Check(v *validator.Validator) {
	validator.ValidateAuthorName(v, c.AuthorName)
	validator.ValidateDays(v, c.Days)
	validator.ValidateTimezone(v, c.Timezone)
	validator.ValidatePatterns(v, "include", c.Include)
	validator.ValidatePatterns(v, "exclude", c.Exclude)

	if c.GitHub.Username != "" {
		validator.ValidateGitHubUsername(v, "github_username", c.GitHub.Username)
	}
	for _, org := range c.GitHub.Orgs {
		validator.ValidateGitHubUsername(v, "github_orgs", org)
	}
}

// Validate reports every problem with the crawl as one error.
func (c Crawl) Validate() error {
	v := validator.New()
	c.Check(v)
	return v.Err()
}

// Enabled reports whether at least one source is configured.
func (c Crawl) Enabled() bool {
	return c.GitHub.Username != "" || c.Sourcehut || len(c.GitRepos) > 0
}

// Location returns the zone feed dates are rendered in, nil for none.
func (c Crawl) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return nil, nil
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// RepoFilter returns the include/exclude repository globs.
func (c Crawl) RepoFilter() activity.RepoFilter {
	return activity.RepoFilter{Include: c.Include, Exclude: c.Exclude}
}

// Query resolves the crawl window relative to now.
func (c Crawl) Query(now time.Time) activity.Query {
	q := activity.Query{
		AuthorName: c.AuthorName,
		Repos:      c.RepoFilter(),
	}
	if c.Days > 0 {
		q.After = now.AddDate(0, 0, -c.Days)
	}
	return q
}

// Sources combines the crawl with the environment into source configuration.
func (c Crawl) Sources(env Env) crawler.Sources {
	var s crawler.Sources

	if c.GitHub.Username != "" {
		s.GitHub = &crawler.GitHubConfig{
			Username:     c.GitHub.Username,
			Orgs:         c.GitHub.Orgs,
			SkipArchived: c.GitHub.SkipArchived,
			Token:        env.GitHubTokens(),
			APIURL:       env.GitHubAPIURL,
		}
	}

	if c.Sourcehut {
		s.Sourcehut = &crawler.SourcehutConfig{
			Enabled:  true,
			Endpoint: env.SourcehutEndpoint(),
			WebURL:   env.SourcehutWebURL,
			Token:    env.SourcehutTokens(),
		}
	}

	if len(c.GitRepos) > 0 {
		s.Git = &crawler.GitConfig{
			Repos:         c.GitRepos,
			CacheDir:      env.CacheDir,
			MinFreeDiskGb: env.MinFreeDiskGb,
			NeverEvict:    c.NeverEvictRepos,
		}
	}

	return s
}
