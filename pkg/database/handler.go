// package database provides the crawler with a wrapper around an
// sql database connection pool and the public methods to store crawled
// activity feeds in it
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	// the injected postgres interface implementations for Go SQL
	_ "github.com/lib/pq"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
)

// Options are the Postgres connection parameters.
type Options struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the options as a lib/pq connection string. Values are quoted
// so that passwords may contain spaces and quotes.
func (o Options) DSN() string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	pairs := []struct{ key, value string }{
		{"host", o.Host},
		{"port", o.Port},
		{"user", o.User},
		{"password", o.Password},
		{"dbname", o.DBName},
		{"sslmode", sslMode},
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+quote(p.value))
	}
	return strings.Join(parts, " ")
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// FeedStore is a wrapper around *sql.DB. It provides a single point where
// feeds are persisted into the repos, users and commits tables.
type FeedStore struct {
	db *sql.DB
}

// NewFeedStore opens a connection pool with the provided options and pings
// the database once to ensure the values and connection are valid.
func NewFeedStore(ctx context.Context, opts Options) (*FeedStore, error) {
	dbPool, err := sql.Open("postgres", opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("could not open database connection: %w", err)
	}

	err = dbPool.PingContext(ctx)
	if err != nil {
		dbPool.Close()
		return nil, fmt.Errorf("could not ping database: %w", err)
	}

	return &FeedStore{
		db: dbPool,
	}, nil
}

// NewFeedStoreFromDB wraps an already opened pool.
func NewFeedStoreFromDB(db *sql.DB) *FeedStore {
	return &FeedStore{db: db}
}

// Close releases the connection pool.
func (p *FeedStore) Close() error {
	return p.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// getOrInsert runs the select query and falls back to the insert query when
// it finds no rows. Both must return a single id column.
func getOrInsert(ctx context.Context, q queryer, selectQuery, insertQuery string, args ...any) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, selectQuery, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = q.QueryRowContext(ctx, insertQuery, args...).Scan(&id)
	}
	return id, err
}

// repositoryID returns the id of a repository based on its URL, inserting it
// when missing. Repositories without URL are keyed by name.
func repositoryID(ctx context.Context, q queryer, repo activity.Repo) (int, error) {
	key := repo.URL
	if key == "" {
		key = repo.Name
	}
	return getOrInsert(ctx, q,
		"SELECT id FROM public.repos WHERE git_url=$1",
		"INSERT INTO public.repos(git_url) VALUES($1) RETURNING id",
		key)
}

// authorID returns the id of an author by their email, inserting it when
// missing.
func authorID(ctx context.Context, q queryer, author activity.Identity) (int, error) {
	return getOrInsert(ctx, q,
		"SELECT id FROM public.users WHERE login=$1",
		"INSERT INTO public.users(login) VALUES($1) RETURNING id",
		author.Email)
}

// insertCommit inserts a commit unless its hash is already stored for the
// repository. It reports whether a row was inserted.
func insertCommit(ctx context.Context, q queryer, c activity.Commit, authorID, repoID int) (bool, error) {
	var id int
	err := q.QueryRowContext(ctx, "SELECT id FROM public.commits WHERE repo_id=$1 AND commit_hash=$2", repoID, c.ID).Scan(&id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	_, err = q.ExecContext(ctx,
		"INSERT INTO public.commits(commit_hash, user_id, repo_id, commit_date) VALUES($1, $2, $3, $4)",
		c.ID, authorID, repoID, c.Author.Time.UTC().Format(time.RFC3339))
	return err == nil, err
}

// StoreFeed persists the commits of a feed in one transaction and returns
// the number of newly stored commits.
func (p *FeedStore) StoreFeed(ctx context.Context, commits []activity.Commit) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("could not begin transaction: %w", err)
	}
	//nolint:errcheck
	defer tx.Rollback()

	repoIDs := make(map[activity.Repo]int)
	authorIDs := make(map[string]int)

	inserted := 0
	for _, c := range commits {
		repoID, ok := repoIDs[c.Repo]
		if !ok {
			repoID, err = repositoryID(ctx, tx, c.Repo)
			if err != nil {
				return 0, fmt.Errorf("could not store repository %s: %w", c.Repo.Name, err)
			}
			repoIDs[c.Repo] = repoID
		}

		userID, ok := authorIDs[c.Author.Email]
		if !ok {
			userID, err = authorID(ctx, tx, c.Author.Identity)
			if err != nil {
				return 0, fmt.Errorf("could not store author %s: %w", c.Author.Email, err)
			}
			authorIDs[c.Author.Email] = userID
		}

		ok, err = insertCommit(ctx, tx, c, userID, repoID)
		if err != nil {
			return 0, fmt.Errorf("could not store commit %s: %w", c.ID, err)
		}
		if ok {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("could not commit transaction: %w", err)
	}
	return inserted, nil
}
