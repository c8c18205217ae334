package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"golang.org/x/sys/unix"

	"github.com/open-sauced/pizza/crawler/pkg/common"
)

// ErrAllPinned is returned when free disk is below the configured minimum and
// every cached repository is pinned by neverEvictRepos.
var ErrAllPinned = errors.New("disk space completely occupied by never evict repos, could not evict")

// GitRepoLRUCache is a Least Recently Used (LRU) "like" cache of bare git
// clones implemented with a doubly-linked-list and hashmap.
//
// It uses the GitRepoFilePath as elements and differs slightly from a typical LRU cache:
//   - Individual elements represent bare clones on-disk, laid out host first
//     under the cache directory (see common.CachePath)
//   - The GitRepoLRUCache evicts elements based on the configured minimum free disk in Gbs.
//     When free space drops to minFreeDiskGb or below, the least recently used
//     clones are deleted until free space is above it again.
//
// Both "Get()" and "Put()" return the individual element in a locked state,
// ready for processing. Callers should ALWAYS call "element.Done()" to unlock
// the individual element once processing has completed.
type GitRepoLRUCache struct {
	// lock guards the list and map. Not for use when processing individual
	// elements returned from the cache.
	lock sync.Mutex

	// minFreeDiskGb is the minimum amount of available disk (in Gb) before the
	// cache will begin evicting elements.
	minFreeDiskGb uint64

	// dir is the directory to store cloned repos on-disk
	dir string

	dll *list.List
	hm  map[string]*list.Element

	// neverEvictRepos are the repository URLs that must never be evicted
	neverEvictRepos map[string]bool

	// freeBytes reports the available bytes of the cache directory.
	freeBytes func(dir string) (uint64, error)
}

// NewGitRepoLRUCache returns a new GitRepoLRUCache configured with the
// destination directory to cache git repos and minimum free gbs
func NewGitRepoLRUCache(dir string, minFreeGbs uint64, neverEvictRepos map[string]bool) (*GitRepoLRUCache, error) {
	path := filepath.Clean(dir)
	_, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error checking provided cache directory: %w", err)
	}

	freeSpace, err := statfsFreeBytes(path)
	if err != nil {
		return nil, fmt.Errorf("error fetching stats for cache directory: %w", err)
	}

	minFreeBytes := minFreeGbs * 1024 * 1024 * 1024
	if freeSpace <= minFreeBytes {
		return nil, fmt.Errorf("minimum free disk space: %d exceeds actual available disk space: %d", minFreeBytes, freeSpace)
	}

	if neverEvictRepos == nil {
		neverEvictRepos = map[string]bool{}
	}

	return &GitRepoLRUCache{
		minFreeDiskGb:   minFreeGbs,
		dir:             path,
		dll:             list.New(),
		hm:              make(map[string]*list.Element),
		neverEvictRepos: neverEvictRepos,
		freeBytes:       statfsFreeBytes,
	}, nil
}

// statfsFreeBytes is the number of bytes available to unprivileged users on
// the filesystem holding dir.
func statfsFreeBytes(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// Get checks the GitRepoLRUCache for the provided key and returns the associated
// GitRepoFilePath element if present, bumping it to the front of the cache.
// If not present, returns nil.
func (c *GitRepoLRUCache) Get(key string) *GitRepoFilePath {
	c.lock.Lock()
	defer c.lock.Unlock()

	if element, ok := c.hm[key]; ok {
		c.dll.MoveToFront(element)
		fp := element.Value.(*GitRepoFilePath)
		fp.lock.Lock()
		return fp
	}

	return nil
}

// Put bare-clones a git repo to disk and adds it to the GitRepoLRUCache. If
// the element is already in the cache, it simply moves that element to the
// front of the cache. A clone already present on disk (e.g. after a restart)
// is reused as is. Put evicts old clones first when free disk is short.
//
// The cache lock is released before cloning so that other repositories can
// be processed while a lengthy clone is in progress.
func (c *GitRepoLRUCache) Put(ctx context.Context, key string) (*GitRepoFilePath, error) {
	rel, err := common.CachePath(key)
	if err != nil {
		return nil, fmt.Errorf("could not derive cache path: %w", err)
	}

	c.lock.Lock()

	if element, ok := c.hm[key]; ok {
		c.dll.MoveToFront(element)
		fp := element.Value.(*GitRepoFilePath)
		fp.lock.Lock()
		c.lock.Unlock()
		return fp, nil
	}

	err = c.tryEvict()
	if err != nil {
		c.lock.Unlock()
		return nil, fmt.Errorf("could not evict repos from cache: %w", err)
	}

	element := &GitRepoFilePath{
		key:  key,
		path: filepath.Join(c.dir, rel),
	}
	c.hm[key] = c.dll.PushFront(element)

	// The new element is locked before the cache is, so it can't be evicted
	// while the clone is in progress.
	element.lock.Lock()
	c.lock.Unlock()

	if err := element.ensureClone(ctx); err != nil {
		element.lock.Unlock()
		c.remove(element)
		return nil, err
	}

	return element, nil
}

// remove drops an element from the cache without touching the disk.
func (c *GitRepoLRUCache) remove(fp *GitRepoFilePath) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if element, ok := c.hm[fp.key]; ok && element.Value.(*GitRepoFilePath) == fp {
		delete(c.hm, fp.key)
		c.dll.Remove(element)
	}
}

// ensureClone reuses a valid repository at the element's path or clones it.
func (g *GitRepoFilePath) ensureClone(ctx context.Context) error {
	if _, err := os.Stat(g.path); err == nil {
		if _, err := git.PlainOpen(g.path); err == nil {
			return nil
		}

		// Invalid leftovers are removed and re-cloned
		if err := os.RemoveAll(g.path); err != nil {
			return fmt.Errorf("could not remove invalid repository in cache: %w", err)
		}
	}

	if err := os.MkdirAll(g.path, os.ModePerm); err != nil {
		return fmt.Errorf("could not create directory in cache: %w", err)
	}

	_, err := git.PlainCloneContext(ctx, g.path, true, &git.CloneOptions{
		URL:  g.key,
		Tags: git.NoTags,
	})
	if err != nil {
		os.RemoveAll(g.path)
		return fmt.Errorf("could not clone into cache directory: %w", err)
	}

	return nil
}

// tryEvict compares the available bytes with the cache's minFreeDiskGb field
// and evicts the least recently used elements until there is enough free
// disk space. Callers must hold the cache lock.
func (c *GitRepoLRUCache) tryEvict() error {
	free, err := c.freeBytes(c.dir)
	if err != nil {
		return fmt.Errorf("could not calculate disk space using statfs: %w", err)
	}

	minFreeBytes := c.minFreeDiskGb * 1024 * 1024 * 1024

	for free <= minFreeBytes {
		if c.dll.Len() == 0 {
			return nil
		}

		// Find the least recently used element that isn't pinned
		lruNode := c.dll.Back()
		for lruNode != nil && c.neverEvictRepos[lruNode.Value.(*GitRepoFilePath).key] {
			lruNode = lruNode.Prev()
		}
		if lruNode == nil {
			return ErrAllPinned
		}

		fp := lruNode.Value.(*GitRepoFilePath)

		// Wait for whoever is processing the repo to finish with it
		fp.lock.Lock()
		err = os.RemoveAll(fp.path)
		delete(c.hm, fp.key)
		c.dll.Remove(lruNode)
		fp.lock.Unlock()
		if err != nil {
			return fmt.Errorf("could not remove evicted repo %s: %w", fp.key, err)
		}

		free, err = c.freeBytes(c.dir)
		if err != nil {
			return fmt.Errorf("could not re-calculate disk space using statfs: %w", err)
		}
	}

	return nil
}
