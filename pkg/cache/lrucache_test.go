package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5"

	"github.com/open-sauced/pizza/crawler/pkg/common"
)

// Each call to NewGitRepoLRUCache uses "1" as the minimum amount of free
// disk space before the LRU cache automatically begins evicting elements, so
// these tests require at least 1 Gb free disk space.
//
// Repositories are seeded on disk as bare repos at their cache path so that
// "Put" reuses them instead of cloning over the network.

// seedRepos initializes a bare repository in dir for every URL.
func seedRepos(t *testing.T, dir string, urls ...string) {
	t.Helper()

	for _, u := range urls {
		rel, err := common.CachePath(u)
		if err != nil {
			t.Fatalf("unexpected err deriving cache path: %s", err.Error())
		}

		_, err = git.PlainInit(filepath.Join(dir, rel), true)
		if err != nil && !errors.Is(err, git.ErrRepositoryAlreadyExists) {
			t.Fatalf("unexpected err seeding repo: %s", err.Error())
		}
	}
}

// validateCache is a convenience method for testing that validates a given cache
func validateCache(t *testing.T, c *GitRepoLRUCache, expected []string) {
	t.Helper()

	if len(c.hm) != len(expected) {
		t.Fatalf("cache hashmap not the expected size: %d, %d", len(c.hm), len(expected))
	}

	if c.dll.Len() != len(expected) {
		t.Fatalf("cache doubly linked list not the expected size: %d, %d", c.dll.Len(), len(expected))
	}

	node := c.dll.Front()
	i := 0

	for node != nil {
		fp := node.Value.(*GitRepoFilePath)
		if fp.key != expected[i] {
			t.Fatalf("GitRepoFilePath and expected key are not the same: %s, %s", fp.key, expected[i])
		}

		_, err := os.Stat(fp.path)
		if err != nil {
			t.Fatalf("unexpected err on checking if cloned repo present: %s", err.Error())
		}

		node = node.Next()
		i++
	}
}

func TestNewGitRepoLRUCache(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cacheDir string
		wantErr  bool
	}{
		{
			name:     "Default case",
			cacheDir: t.TempDir(),
			wantErr:  false,
		},
		{
			name:     "Fails when directory doesn't exist",
			cacheDir: "/should/not/exist",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewGitRepoLRUCache(tt.cacheDir, 1, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected err: %s", err.Error())
			}

			if c.dir != tt.cacheDir {
				t.Fatalf("unexpected cache dir found. Expected: %s. Actual: %s.", tt.cacheDir, c.dir)
			}

			if len(c.hm) != 0 {
				t.Fatalf("expected cache hashmap length to be 0 for new cache. Actual: %d.", len(c.hm))
			}

			if c.dll.Len() != 0 {
				t.Fatalf("expected cache doubly linked list length to be 0 for new cache. Actual: %d.", c.dll.Len())
			}
		})
	}
}

func TestPutGitRepoLRUCache(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                  string
		repos                 []string
		expectedCacheOrdering []string
	}{
		{
			name: "Puts repos into cache in sequential order",
			repos: []string{
				"https://github.com/open-sauced/pizza",
				"https://github.com/open-sauced/pizza-cli",
				"https://github.com/open-sauced/insights",
			},
			expectedCacheOrdering: []string{
				"https://github.com/open-sauced/insights",
				"https://github.com/open-sauced/pizza-cli",
				"https://github.com/open-sauced/pizza",
			},
		},
		{
			name: "Most recently used is first in order",
			repos: []string{
				"https://github.com/open-sauced/pizza",
				"https://github.com/open-sauced/pizza-cli",
				"https://github.com/open-sauced/insights",
				// Note this repo is "Put" last and should appear first in the cache
				"https://github.com/open-sauced/pizza",
			},
			expectedCacheOrdering: []string{
				"https://github.com/open-sauced/pizza",
				"https://github.com/open-sauced/insights",
				"https://github.com/open-sauced/pizza-cli",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			seedRepos(t, dir, tt.repos...)

			c, err := NewGitRepoLRUCache(dir, 1, nil)
			if err != nil {
				t.Fatalf("unexpected err: %s", err.Error())
			}

			for _, repo := range tt.repos {
				repoFp, err := c.Put(context.Background(), repo)
				if err != nil {
					t.Fatalf("unexpected err putting to cache: %s", err.Error())
				}
				repoFp.Done()
			}

			validateCache(t, c, tt.expectedCacheOrdering)
		})
	}
}

func TestPutLaysOutClonesHostFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	seedRepos(t, dir, "https://git.sr.ht/~alice/dotfiles")

	c, err := NewGitRepoLRUCache(dir, 1, nil)
	if err != nil {
		t.Fatalf("unexpected err: %s", err.Error())
	}

	repoFp, err := c.Put(context.Background(), "https://git.sr.ht/~alice/dotfiles")
	if err != nil {
		t.Fatalf("unexpected err putting to cache: %s", err.Error())
	}
	defer repoFp.Done()

	want := filepath.Join(dir, "git.sr.ht", "~alice", "dotfiles")
	if repoFp.Path() != want {
		t.Fatalf("unexpected path. Expected: %s. Actual: %s.", want, repoFp.Path())
	}
}

func TestPutRejectsUnusableURL(t *testing.T) {
	t.Parallel()

	c, err := NewGitRepoLRUCache(t.TempDir(), 1, nil)
	if err != nil {
		t.Fatalf("unexpected err: %s", err.Error())
	}

	_, err = c.Put(context.Background(), "not a url")
	if err == nil {
		t.Fatal("expected error putting an unusable URL")
	}

	validateCache(t, c, []string{})
}

func TestTryEvict(t *testing.T) {
	t.Parallel()

	repos := []string{
		"https://github.com/open-sauced/pizza",
		"https://github.com/open-sauced/pizza-cli",
		"https://github.com/open-sauced/insights",
	}

	tests := []struct {
		name                  string
		neverEvictRepos       map[string]bool
		expectedCacheOrdering []string
		wantErr               error
	}{
		{
			name:                  "Evicts repos when size limit reached",
			neverEvictRepos:       map[string]bool{},
			expectedCacheOrdering: []string{},
		},
		{
			name: "Skips never evict repos",
			neverEvictRepos: map[string]bool{
				"https://github.com/open-sauced/pizza": true,
			},
			expectedCacheOrdering: []string{
				"https://github.com/open-sauced/pizza",
			},
			wantErr: ErrAllPinned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			seedRepos(t, dir, repos...)

			c, err := NewGitRepoLRUCache(dir, 1, tt.neverEvictRepos)
			if err != nil {
				t.Fatalf("unexpected err: %s", err.Error())
			}

			for _, repo := range repos {
				repoFp, err := c.Put(context.Background(), repo)
				if err != nil {
					t.Fatalf("unexpected err putting to cache: %s", err.Error())
				}
				repoFp.Done()
			}

			// Report a full disk in order to force the eviction algorithm
			// to evict everything it is allowed to
			c.freeBytes = func(string) (uint64, error) { return 0, nil }

			c.lock.Lock()
			err = c.tryEvict()
			c.lock.Unlock()

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("unexpected err attempting to evict repos: %v", err)
			}

			validateCache(t, c, tt.expectedCacheOrdering)

			// Evicted clones are gone from disk
			for _, repo := range repos {
				if tt.neverEvictRepos[repo] {
					continue
				}
				rel, _ := common.CachePath(repo)
				if _, err := os.Stat(filepath.Join(dir, rel)); !os.IsNotExist(err) {
					t.Fatalf("expected evicted repo to be removed from disk: %s", repo)
				}
			}
		})
	}
}

func TestGetGitRepoLRUCache(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                  string
		loadToCache           []string
		getFromCache          []string
		expectedCacheOrdering []string
		wantNil               bool
	}{
		{
			name: "Gets queried repo and inserts it to front of cache",
			loadToCache: []string{
				"https://github.com/open-sauced/pizza",
				"https://github.com/open-sauced/pizza-cli",
				"https://github.com/open-sauced/insights",
			},
			getFromCache: []string{
				"https://github.com/open-sauced/pizza",
			},
			expectedCacheOrdering: []string{
				"https://github.com/open-sauced/pizza",
				"https://github.com/open-sauced/insights",
				"https://github.com/open-sauced/pizza-cli",
			},
			wantNil: false,
		},
		{
			name: "Returns nothing if repo not in cache",
			loadToCache: []string{
				"https://github.com/open-sauced/pizza",
				"https://github.com/open-sauced/pizza-cli",
				"https://github.com/open-sauced/insights",
			},
			getFromCache: []string{
				"https://github.com/open-sauced/ai",
			},
			expectedCacheOrdering: []string{
				"https://github.com/open-sauced/insights",
				"https://github.com/open-sauced/pizza-cli",
				"https://github.com/open-sauced/pizza",
			},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			seedRepos(t, dir, tt.loadToCache...)

			c, err := NewGitRepoLRUCache(dir, 1, nil)
			if err != nil {
				t.Fatalf("unexpected err creating cache: %s", err.Error())
			}

			for _, repo := range tt.loadToCache {
				repoFp, err := c.Put(context.Background(), repo)
				if err != nil {
					t.Fatalf("unexpected err putting to cache: %s", err.Error())
				}
				repoFp.Done()
			}

			for _, repo := range tt.getFromCache {
				repoFp := c.Get(repo)
				if repoFp == nil && !tt.wantNil {
					t.Fatal("get returned a nil git repo")
				}

				if repoFp != nil {
					if tt.wantNil {
						t.Fatalf("expected a cache miss for %s", repo)
					}
					repoFp.Done()
				}
			}

			validateCache(t, c, tt.expectedCacheOrdering)
		})
	}
}

func TestGetAndPutConcurrently(t *testing.T) {
	t.Parallel()

	repos := []string{
		"https://github.com/open-sauced/pizza",
		"https://github.com/open-sauced/pizza-cli",
		"https://github.com/open-sauced/insights",
	}

	dir := t.TempDir()
	seedRepos(t, dir, repos...)

	c, err := NewGitRepoLRUCache(dir, 1, nil)
	if err != nil {
		t.Fatalf("unexpected err creating cache: %s", err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(2 * len(repos))

	for _, repo := range repos {
		go func(repo string) {
			defer wg.Done()
			repoFp, err := c.Put(context.Background(), repo)
			if err == nil {
				repoFp.Done()
			}
		}(repo)
	}

	for _, repo := range repos {
		go func(repo string) {
			defer wg.Done()
			repoFp := c.Get(repo)
			if repoFp != nil {
				repoFp.Done()
			}
		}(repo)
	}

	wg.Wait()

	// Since putting and getting from the cache is performed concurrently,
	// only the sizes are reliable.
	if len(c.hm) != len(repos) {
		t.Fatalf("cache hashmap not the expected size: %d, %d", len(c.hm), len(repos))
	}

	if c.dll.Len() != len(repos) {
		t.Fatalf("cache doubly linked list not the expected size: %d, %d", c.dll.Len(), len(repos))
	}
}
