// package activity provides the data structures of the activity feed: the
// normalized commit model every source maps into, the rendered feed entries
// and the merge of several sources into one chronological feed.
package activity

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by sources when a repository or reference does not
// exist (anymore). Callers treat it as an empty result.
var ErrNotFound = errors.New("not found")

// Identity is an author or committer. Filtering compares Name only.
type Identity struct {
	Name  string
	Email string
}

// Matches reports whether the identity has the given display name.
func (i Identity) Matches(name string) bool {
	return i.Name == name
}

// Signature is who did something and when.
type Signature struct {
	Identity
	Time time.Time
}

// Repo is the repository context attached to every commit of the feed.
type Repo struct {
	Name   string
	URL    string
	Public bool
}

// Commit is the source independent representation of a single git commit.
// Two commits of the same source are the same commit iff their ID matches.
type Commit struct {
	ID        string
	Title     string
	Message   string
	URL       string
	Author    Signature
	Committer Signature
	Repo      Repo
}

// Title returns the first line of a commit message, or "" when the message
// has no lines at all. Lines break at any of lineBreaks.
func Title(message string) string {
	if idx := strings.IndexAny(message, lineBreaks); idx != -1 {
		return message[:idx]
	}
	return message
}

// lineBreaks are the line boundaries of a message: CR, LF, vertical tab,
// form feed, the file/group/record separators, NEL and the Unicode line and
// paragraph separators.
const lineBreaks = "\r\n\v\f\x1c\x1d\x1e\u0085\u2028\u2029"
