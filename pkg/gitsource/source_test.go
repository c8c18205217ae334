package gitsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/providers"
	"github.com/open-sauced/pizza/crawler/pkg/walker"
)

var (
	alice = object.Signature{Name: "Alice", Email: "alice@example.com"}
	bob   = object.Signature{Name: "Bob", Email: "bob@example.com"}
)

// history writes commit objects straight into a repository's object store
// so tests control parents and dates exactly.
type history struct {
	t    *testing.T
	repo *git.Repository
	tree plumbing.Hash
}

func newHistory(t *testing.T, repo *git.Repository) *history {
	t.Helper()

	obj := repo.Storer.NewEncodedObject()
	require.NoError(t, (&object.Tree{}).Encode(obj))
	tree, err := repo.Storer.SetEncodedObject(obj)
	require.NoError(t, err)

	return &history{t: t, repo: repo, tree: tree}
}

func (h *history) commit(msg string, who object.Signature, when time.Time, parents ...plumbing.Hash) plumbing.Hash {
	h.t.Helper()

	who.When = when
	c := &object.Commit{
		Author:       who,
		Committer:    who,
		Message:      msg,
		TreeHash:     h.tree,
		ParentHashes: parents,
	}

	obj := h.repo.Storer.NewEncodedObject()
	require.NoError(h.t, c.Encode(obj))
	hash, err := h.repo.Storer.SetEncodedObject(obj)
	require.NoError(h.t, err)
	return hash
}

func (h *history) ref(name plumbing.ReferenceName, hash plumbing.Hash) {
	h.t.Helper()
	require.NoError(h.t, h.repo.Storer.SetReference(plumbing.NewHashReference(name, hash)))
}

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// diamond builds
//
//	C1 (alice, -10d) <- C2 (alice, -2d)  main
//	C1               <- C3 (bob,   -1d)  feature
//	C2, C3           <- C4 (alice, -1h)  origin/main
func diamond(t *testing.T, repo *git.Repository) map[string]plumbing.Hash {
	h := newHistory(t, repo)

	c1 := h.commit("Initial commit\n\nbody", alice, now.Add(-10*24*time.Hour))
	c2 := h.commit("Add feed", alice, now.Add(-2*24*time.Hour), c1)
	c3 := h.commit("Fix typo", bob, now.Add(-24*time.Hour), c1)
	c4 := h.commit("Merge feature", alice, now.Add(-time.Hour), c2, c3)

	h.ref(plumbing.NewBranchReferenceName("main"), c2)
	h.ref(plumbing.NewBranchReferenceName("feature"), c3)
	h.ref(plumbing.NewRemoteReferenceName("origin", "main"), c4)
	h.ref(plumbing.NewRemoteReferenceName("origin", "feature"), c3)
	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))))

	return map[string]plumbing.Hash{"c1": c1, "c2": c2, "c3": c3, "c4": c4}
}

func ids(commits []activity.Commit) []string {
	out := make([]string, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.ID)
	}
	return out
}

func TestGraphHeads(t *testing.T) {
	t.Parallel()

	repo, err := git.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	c := diamond(t, repo)

	heads, err := NewGraph(repo, activity.Repo{}).Heads(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{c["c2"].String(), c["c3"].String(), c["c4"].String()}, heads)
}

func TestGraphHeadsEmptyRepository(t *testing.T) {
	t.Parallel()

	repo, err := git.Init(memory.NewStorage(), nil)
	require.NoError(t, err)

	heads, err := NewGraph(repo, activity.Repo{}).Heads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, heads)
}

func TestGraphCommit(t *testing.T) {
	t.Parallel()

	repo, err := git.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	c := diamond(t, repo)

	rc := activity.Repo{Name: "pizza", URL: "https://github.com/open-sauced/pizza", Public: true}
	node, err := NewGraph(repo, rc).Commit(context.Background(), c["c4"].String())
	require.NoError(t, err)

	assert.Equal(t, []string{c["c2"].String(), c["c3"].String()}, node.Parents)
	assert.Equal(t, c["c4"].String(), node.Commit.ID)
	assert.Equal(t, "Merge feature", node.Commit.Title)
	assert.Equal(t, "Alice", node.Commit.Author.Name)
	assert.Equal(t, "alice@example.com", node.Commit.Author.Email)
	assert.True(t, node.Commit.Author.Time.Equal(now.Add(-time.Hour)))
	assert.Equal(t, "https://github.com/open-sauced/pizza/commit/"+c["c4"].String(), node.Commit.URL)
	assert.Equal(t, rc, node.Commit.Repo)

	_, err = NewGraph(repo, rc).Commit(context.Background(), plumbing.ZeroHash.String())
	assert.True(t, errors.Is(err, activity.ErrNotFound))
}

func TestGraphWalk(t *testing.T) {
	t.Parallel()

	repo, err := git.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	c := diamond(t, repo)

	tests := []struct {
		name  string
		f     walker.Filter
		want  []string
		visit int
	}{
		{
			name:  "Every commit of the author across branches",
			f:     walker.Filter{AuthorName: "Alice"},
			want:  []string{c["c1"].String(), c["c2"].String(), c["c4"].String()},
			visit: 4,
		},
		{
			name:  "Window prunes the initial commit",
			f:     walker.Filter{AuthorName: "Alice", After: now.Add(-7 * 24 * time.Hour)},
			want:  []string{c["c2"].String(), c["c4"].String()},
			visit: 4,
		},
		{
			name:  "Other author",
			f:     walker.Filter{AuthorName: "Bob"},
			want:  []string{c["c3"].String()},
			visit: 4,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := walker.Walk(context.Background(), NewGraph(repo, activity.Repo{}), tt.f)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(res.Commits))
			assert.Equal(t, tt.visit, res.Visited)
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	c := &object.Commit{
		Hash:    plumbing.NewHash("4b825dc642cb6eb9a060e54bf8d69288fbee4904"),
		Author:  object.Signature{Name: "Alice", When: now},
		Message: "",
	}

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "https remote", url: "https://git.sr.ht/~alice/dotfiles", want: "https://git.sr.ht/~alice/dotfiles/commit/4b825dc642cb6eb9a060e54bf8d69288fbee4904"},
		{name: "git remote", url: "git://example.com/dotfiles", want: ""},
		{name: "local path", url: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(activity.Repo{URL: tt.url}, c)
			assert.Equal(t, tt.want, got.URL)
			assert.Equal(t, "", got.Title)
		})
	}
}

func TestRepoContext(t *testing.T) {
	t.Parallel()

	private := false

	tests := []struct {
		name string
		spec RepoSpec
		want activity.Repo
	}{
		{
			name: "https remote",
			spec: RepoSpec{Location: "https://github.com/open-sauced/pizza.git"},
			want: activity.Repo{Name: "pizza", URL: "https://github.com/open-sauced/pizza", Public: true},
		},
		{
			name: "Visibility override",
			spec: RepoSpec{Location: "https://github.com/open-sauced/pizza", Public: &private},
			want: activity.Repo{Name: "pizza", URL: "https://github.com/open-sauced/pizza", Public: false},
		},
		{
			name: "git remote is not public",
			spec: RepoSpec{Location: "git://example.com/tools/dotfiles"},
			want: activity.Repo{Name: "dotfiles", URL: "git://example.com/tools/dotfiles"},
		},
		{
			name: "Local path",
			spec: RepoSpec{Location: "/home/alice/src/crawler/"},
			want: activity.Repo{Name: "crawler"},
		},
		{
			name: "Name override",
			spec: RepoSpec{Location: "/home/alice/src/crawler", Name: "activity-crawler"},
			want: activity.Repo{Name: "activity-crawler"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RepoContext(tt.spec))
		})
	}
}

// countingProvider records the locations it was asked for.
type countingProvider struct {
	providers.GitRepoProvider
	locations []string
	done      int
}

type trackedRepo struct {
	providers.GitRepo
	p *countingProvider
}

func (r trackedRepo) Done() {
	r.p.done++
	r.GitRepo.Done()
}

func (p *countingProvider) FetchRepo(ctx context.Context, location string) (providers.GitRepo, error) {
	p.locations = append(p.locations, location)
	repo, err := p.GitRepoProvider.FetchRepo(ctx, location)
	if err != nil {
		return nil, err
	}
	return trackedRepo{GitRepo: repo, p: p}, nil
}

func TestSourceFetch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	c := diamond(t, repo)

	local := &countingProvider{GitRepoProvider: providers.NewLocalGitRepoProvider(zap.NewNop().Sugar())}
	s := NewSource([]RepoSpec{
		{Location: dir, Name: "dotfiles"},
		{Location: dir, Name: "skipped"},
	}, local, nil, zap.NewNop().Sugar())

	assert.Equal(t, "git", s.Name())

	got, err := s.Fetch(context.Background(), activity.Query{
		AuthorName: "Alice",
		After:      now.Add(-7 * 24 * time.Hour),
		Repos:      activity.RepoFilter{Exclude: []string{"skipped"}},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{c["c2"].String(), c["c4"].String()}, ids(got))
	for _, commit := range got {
		assert.Equal(t, "dotfiles", commit.Repo.Name)
		assert.Equal(t, "", commit.URL)
	}

	assert.Equal(t, []string{dir}, local.locations)
	assert.Equal(t, 1, local.done)
}

func TestSourceFetchRemoteWithoutProvider(t *testing.T) {
	t.Parallel()

	s := NewSource([]RepoSpec{{Location: "https://github.com/open-sauced/pizza"}}, nil, nil, nil)

	_, err := s.Fetch(context.Background(), activity.Query{AuthorName: "Alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://github.com/open-sauced/pizza")
}

func TestSourceFetchRemoteUsesNormalizedURL(t *testing.T) {
	t.Parallel()

	remote := &countingProvider{GitRepoProvider: failingProvider{}}
	s := NewSource([]RepoSpec{{Location: "https://github.com/open-sauced/pizza.git/"}}, nil, remote, nil)

	_, err := s.Fetch(context.Background(), activity.Query{AuthorName: "Alice"})
	require.Error(t, err)
	assert.Equal(t, []string{"https://github.com/open-sauced/pizza"}, remote.locations)
}

type failingProvider struct{}

func (failingProvider) FetchRepo(context.Context, string) (providers.GitRepo, error) {
	return nil, errors.New("network unavailable")
}

func TestRepoSpecUnmarshalYAML(t *testing.T) {
	t.Parallel()

	var specs []RepoSpec
	err := yaml.Unmarshal([]byte(`
- https://git.sr.ht/~alice/dotfiles
- location: /home/alice/src/crawler
  name: activity-crawler
  public: true
`), &specs)
	require.NoError(t, err)

	public := true
	assert.Equal(t, []RepoSpec{
		{Location: "https://git.sr.ht/~alice/dotfiles"},
		{Location: "/home/alice/src/crawler", Name: "activity-crawler", Public: &public},
	}, specs)

	err = yaml.Unmarshal([]byte("- name: nowhere\n"), &specs)
	assert.Error(t, err)

	err = yaml.Unmarshal([]byte("- [a, b]\n"), &specs)
	assert.Error(t, err)
}
