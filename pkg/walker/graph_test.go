package walker

import (
	"context"
	"fmt"
	"time"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
)

// memGraph is an in-memory Graph that counts commit lookups.
type memGraph struct {
	heads   []string
	nodes   map[string]Node
	lookups map[string]int
	headErr error
	failOn  string
}

func newMemGraph() *memGraph {
	return &memGraph{
		nodes:   make(map[string]Node),
		lookups: make(map[string]int),
	}
}

func (g *memGraph) add(id, author string, when time.Time, parents ...string) {
	g.nodes[id] = Node{
		Commit: activity.Commit{
			ID:     id,
			Title:  "commit " + id,
			Author: activity.Signature{Identity: activity.Identity{Name: author}, Time: when},
		},
		Parents: parents,
	}
}

func (g *memGraph) Heads(context.Context) ([]string, error) {
	if g.headErr != nil {
		return nil, g.headErr
	}
	return g.heads, nil
}

func (g *memGraph) Commit(_ context.Context, id string) (Node, error) {
	g.lookups[id]++
	if id == g.failOn {
		return Node{}, fmt.Errorf("lookup of %s failed", id)
	}
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, activity.ErrNotFound
	}
	return n, nil
}
