package activity

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Query is what every source is asked for: the commits of one author,
// optionally limited to a time window and a subset of repositories.
type Query struct {
	// AuthorName is compared against commit author names.
	AuthorName string

	// After is the earliest author time of interest. Zero means no limit.
	After time.Time

	Repos RepoFilter
}

// RepoFilter selects repositories by name using doublestar glob patterns.
type RepoFilter struct {
	Include []string
	Exclude []string
}

// Validate reports the first malformed pattern.
func (f RepoFilter) Validate() error {
	for _, pattern := range append(append([]string(nil), f.Include...), f.Exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid repository pattern: %q", pattern)
		}
	}
	return nil
}

// Match reports whether a repository passes the filter. Exclusions win over
// inclusions and an empty include list accepts everything.
func (f RepoFilter) Match(name string) bool {
	for _, pattern := range f.Exclude {
		if matched, _ := doublestar.Match(pattern, name); matched {
			return false
		}
	}

	if len(f.Include) == 0 {
		return true
	}

	for _, pattern := range f.Include {
		if matched, _ := doublestar.Match(pattern, name); matched {
			return true
		}
	}

	return false
}
