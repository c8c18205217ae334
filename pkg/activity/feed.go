package activity

import (
	"sort"
	"time"
)

// DateLayout renders timestamps in ISO-8601 with seconds precision and an
// explicit numeric offset.
const DateLayout = "2006-01-02T15:04:05-07:00"

// Entry is a single element of the emitted activity feed.
type Entry struct {
	Hash  string    `json:"hash"`
	Title string    `json:"title"`
	URL   string    `json:"url"`
	Date  string    `json:"date"`
	Repo  EntryRepo `json:"repo"`
}

// EntryRepo is the repository part of an Entry.
type EntryRepo struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Public bool   `json:"public"`
}

// Render converts a commit into a feed entry. When loc is non-nil the author
// time is converted into that location before formatting, otherwise the
// commit keeps the offset it was recorded with.
func Render(c Commit, loc *time.Location) Entry {
	date := c.Author.Time
	if loc != nil {
		date = date.In(loc)
	}

	return Entry{
		Hash:  c.ID,
		Title: c.Title,
		URL:   c.URL,
		Date:  date.Format(DateLayout),
		Repo: EntryRepo{
			Name:   c.Repo.Name,
			URL:    c.Repo.URL,
			Public: c.Repo.Public,
		},
	}
}

// RenderAll renders every commit in order.
func RenderAll(commits []Commit, loc *time.Location) []Entry {
	entries := make([]Entry, 0, len(commits))
	for _, c := range commits {
		entries = append(entries, Render(c, loc))
	}
	return entries
}

// Merge concatenates the commits of several sources and orders them by
// author time, oldest first. Commits with equal times keep their relative
// input order.
func Merge(sources ...[]Commit) []Commit {
	var n int
	for _, s := range sources {
		n += len(s)
	}

	merged := make([]Commit, 0, n)
	for _, s := range sources {
		merged = append(merged, s...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Author.Time.Before(merged[j].Author.Time)
	})

	return merged
}
