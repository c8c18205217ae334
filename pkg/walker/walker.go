// package walker reconstructs the commits of one author from a repository's
// commit graph by walking the ancestry of every branch head.
package walker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
)

// Node is one commit of a graph together with its parent ids.
type Node struct {
	Commit  activity.Commit
	Parents []string
}

// Graph gives access to the commit graph of a single repository.
type Graph interface {
	// Heads returns the commit ids every branch points at. It returns
	// activity.ErrNotFound when the repository does not exist.
	Heads(ctx context.Context) ([]string, error)

	// Commit looks up a single commit by id.
	Commit(ctx context.Context, id string) (Node, error)
}

// Filter selects the commits a walk reports.
type Filter struct {
	// AuthorName must equal the commit author's name.
	AuthorName string

	// After prunes the walk: a commit authored strictly before After is
	// neither reported nor descended into. Zero disables pruning.
	After time.Time
}

// Result is the outcome of a walk.
type Result struct {
	// Commits are the matching commits in visiting order.
	Commits []activity.Commit

	// Visited is the number of distinct commits looked at.
	Visited int
}

// Walk performs a depth first traversal from all heads of g. Every commit
// reachable from any head is looked up at most once, no matter how many
// branches share it.
//
// Pruning by Filter.After assumes author times never increase along parent
// edges. Merges of older branches can break that assumption, in which case
// commits behind an older commit are missed; this is accepted.
func Walk(ctx context.Context, g Graph, f Filter) (Result, error) {
	heads, err := g.Heads(ctx)
	if err != nil {
		if errors.Is(err, activity.ErrNotFound) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("could not list heads: %w", err)
	}

	visited := make(map[string]struct{})
	stack := make([]string, 0, len(heads))
	stack = append(stack, heads...)

	var res Result
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}

		node, err := g.Commit(ctx, id)
		if err != nil {
			if errors.Is(err, activity.ErrNotFound) {
				continue
			}
			return Result{}, fmt.Errorf("could not look up commit %s: %w", id, err)
		}

		if !f.After.IsZero() && node.Commit.Author.Time.Before(f.After) {
			continue
		}

		if node.Commit.Author.Matches(f.AuthorName) {
			res.Commits = append(res.Commits, node.Commit)
		}

		for _, p := range node.Parents {
			if _, ok := visited[p]; ok {
				continue
			}
			stack = append(stack, p)
		}
	}

	res.Visited = len(visited)
	return res, nil
}
