package providers

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/crawler/pkg/cache"
)

// NeverEvictRepos is the set of clone URLs the disk cache pins.
type NeverEvictRepos map[string]bool

// LRUCacheGitRepoProvider keeps remote clones on disk between crawls. Space
// is reclaimed from the least recently crawled repositories once the disk
// runs short.
type LRUCacheGitRepoProvider struct {
	logger   *zap.SugaredLogger
	LRUCache *cache.GitRepoLRUCache
}

// NewLRUCacheGitRepoProvider roots the clone cache at cacheDir. Clones are
// evicted while less than minFreeDisk bytes are free, pinned ones excepted.
func NewLRUCacheGitRepoProvider(cacheDir string, minFreeDisk uint64, l *zap.SugaredLogger, pinned NeverEvictRepos) (GitRepoProvider, error) {
	c, err := cache.NewGitRepoLRUCache(cacheDir, minFreeDisk, pinned)
	if err != nil {
		return nil, fmt.Errorf("could not set up the clone cache in %s: %w", cacheDir, err)
	}

	return &LRUCacheGitRepoProvider{
		logger:   l,
		LRUCache: c,
	}, nil
}

// FetchRepo brings the clone of url up to date and locks it for the caller
// until Done. A first crawl clones; later crawls fetch every branch.
func (p *LRUCacheGitRepoProvider) FetchRepo(ctx context.Context, url string) (GitRepo, error) {
	entry := p.LRUCache.Get(url)
	if entry == nil {
		p.logger.Debugw("cloning repository into the cache", "url", url)

		var err error
		entry, err = p.LRUCache.Put(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("could not add %s to the clone cache: %w", url, err)
		}
	}

	p.logger.Debugw("updating cached clone", "url", url, "path", entry.Path())
	repo, err := entry.OpenAndFetch(ctx)
	if err != nil {
		entry.Done()
		return nil, fmt.Errorf("could not update the cached clone of %s: %w", url, err)
	}

	return &CachedGitRepo{
		url:   url,
		entry: entry,
		repo:  repo,
	}, nil
}

// CachedGitRepo is a cached clone locked for one walk.
type CachedGitRepo struct {
	url   string
	entry *cache.GitRepoFilePath
	repo  *git.Repository
}

func (r *CachedGitRepo) GetRepo() *git.Repository {
	return r.repo
}

func (r *CachedGitRepo) Location() string {
	return r.url
}

// Done unlocks the clone. Until then no other walk can use it and the cache
// cannot evict it.
func (r *CachedGitRepo) Done() {
	r.entry.Done()
}
