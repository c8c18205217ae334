package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/config"
	"github.com/open-sauced/pizza/crawler/pkg/crawler"
	"github.com/open-sauced/pizza/crawler/pkg/database"
	"github.com/open-sauced/pizza/crawler/pkg/gitsource"
	"github.com/open-sauced/pizza/crawler/pkg/output"
)

type activityFlags struct {
	output         string
	authorName     string
	days           int
	timezone       string
	githubUsername string
	githubOrgs     []string
	skipArchived   bool
	sourcehut      bool
	gitRepos       []string
	include        []string
	exclude        []string
	store          bool
}

func activityCmd(a *app) *cobra.Command {
	var f activityFlags

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Crawl the commits of an author into a JSON feed",
		Long: `Crawl the commits of an author into a JSON feed.

Every enabled source is crawled concurrently. The feed is written only when
all of them succeed; the first failing source aborts the crawl.

Environment variables:
  CRAWLER_GITHUB_TOKEN         GitHub personal access token (or GITHUB_TOKEN)
  CRAWLER_GITHUB_TOKEN_FILE    File holding the GitHub token
  CRAWLER_GITHUB_API_URL       GitHub REST API root (default: api.github.com)
  CRAWLER_SOURCEHUT_TOKEN      sourcehut OAuth token
  CRAWLER_SOURCEHUT_TOKEN_FILE File holding the sourcehut token
  CRAWLER_SOURCEHUT_URL        git.sr.ht GraphQL endpoint
  CRAWLER_CACHE_DIR            Keep bare clones of remote git repositories here
  CRAWLER_MIN_FREE_DISK_GB     Free disk the clone cache keeps (default: 1)
  CRAWLER_DATABASE_*           Postgres connection used by --store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			crawl, err := a.crawl()
			if err != nil {
				return err
			}
			f.apply(cmd, &crawl)

			return runActivity(cmd.Context(), a, crawl, f.output, f.store)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", output.Stdout, "write the feed to this file instead of stdout")
	flags.StringVar(&f.authorName, "author-name", "", "author name commits must match exactly")
	flags.IntVar(&f.days, "days", config.DefaultDays, "only include commits of the last days, 0 for all")
	flags.StringVar(&f.timezone, "timezone", "", "IANA timezone feed dates are rendered in")
	flags.StringVar(&f.githubUsername, "github-username", "", "crawl the repositories of this GitHub user")
	flags.StringSliceVar(&f.githubOrgs, "github-org", nil, "also crawl the repositories of this GitHub organization")
	flags.BoolVar(&f.skipArchived, "skip-archived", false, "leave archived GitHub repositories out")
	flags.BoolVar(&f.sourcehut, "sourcehut", false, "crawl the sourcehut repositories of the token's owner")
	flags.StringArrayVar(&f.gitRepos, "git-repo", nil, "crawl this git repository path or URL, repeatable")
	flags.StringSliceVar(&f.include, "include", nil, "only crawl repositories matching these globs")
	flags.StringSliceVar(&f.exclude, "exclude", nil, "never crawl repositories matching these globs")
	flags.BoolVar(&f.store, "store", false, "also store the feed in the Postgres database")

	return cmd
}

// apply overrides the crawl with every flag set on the command line.
func (f activityFlags) apply(cmd *cobra.Command, c *config.Crawl) {
	flags := cmd.Flags()

	if flags.Changed("author-name") {
		c.AuthorName = f.authorName
	}
	if flags.Changed("days") {
		c.Days = f.days
	}
	if flags.Changed("timezone") {
		c.Timezone = f.timezone
	}
	if flags.Changed("github-username") {
		c.GitHub.Username = f.githubUsername
	}
	if flags.Changed("github-org") {
		c.GitHub.Orgs = f.githubOrgs
	}
	if flags.Changed("skip-archived") {
		c.GitHub.SkipArchived = f.skipArchived
	}
	if flags.Changed("sourcehut") {
		c.Sourcehut = f.sourcehut
	}
	if flags.Changed("git-repo") {
		c.GitRepos = make([]gitsource.RepoSpec, 0, len(f.gitRepos))
		for _, location := range f.gitRepos {
			c.GitRepos = append(c.GitRepos, gitsource.RepoSpec{Location: location})
		}
	}
	if flags.Changed("include") {
		c.Include = f.include
	}
	if flags.Changed("exclude") {
		c.Exclude = f.exclude
	}
}

func runActivity(ctx context.Context, a *app, crawl config.Crawl, outputPath string, store bool) error {
	if err := crawl.Validate(); err != nil {
		return err
	}
	if !crawl.Enabled() {
		a.logger.Warnf("No source enabled, the feed will be empty")
	}

	var feedStore *database.FeedStore
	if store {
		opts, ok := a.env.Database()
		if !ok {
			return errors.New("--store requires CRAWLER_DATABASE_HOST to be set")
		}

		var err error
		feedStore, err = database.NewFeedStore(ctx, opts)
		if err != nil {
			return err
		}
		defer feedStore.Close()
	}

	// Validated above
	loc, _ := crawl.Location()

	sources, err := crawler.Build(ctx, crawl.Sources(a.env), a.logger)
	if err != nil {
		return err
	}

	commits, err := crawler.Run(ctx, sources, crawl.Query(time.Now()), a.logger)
	if err != nil {
		return err
	}
	a.logger.Infof("Crawled %d commits of %s", len(commits), crawl.AuthorName)

	if feedStore != nil {
		n, err := feedStore.StoreFeed(ctx, commits)
		if err != nil {
			return fmt.Errorf("could not store feed: %w", err)
		}
		a.logger.Infof("Stored %d new commits", n)
	}

	return output.Write(outputPath, activity.RenderAll(commits, loc))
}
