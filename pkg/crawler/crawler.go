// package crawler runs the enabled activity sources side by side and merges
// their commits into one chronological feed.
package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
)

// Source produces the commits of one author from a single kind of host.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string

	// Fetch returns every commit matching q.
	Fetch(ctx context.Context, q activity.Query) ([]activity.Commit, error)
}

// Run fetches from all sources concurrently and returns their merged
// commits, oldest first. The first failing source aborts the run: the
// context of the others is cancelled and no commits are returned. The error
// names the failing source.
func Run(ctx context.Context, sources []Source, q activity.Query, logger *zap.SugaredLogger) ([]activity.Commit, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// Each source owns its result slot, so no locking is needed
	results := make([][]activity.Commit, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			logger.Infof("fetching from source: %s", src.Name())

			commits, err := src.Fetch(gctx, q)
			if err != nil {
				return fmt.Errorf("%s: %w", src.Name(), err)
			}

			logger.Infof("source %s returned %d commits", src.Name(), len(commits))
			results[i] = commits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return activity.Merge(results...), nil
}
