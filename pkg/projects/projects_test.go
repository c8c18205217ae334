package projects

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-sauced/pizza/crawler/pkg/github"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// newFakeGitHub serves user "alice" owning "pizza" (branches main and
// feature) and "empty" (no branches). Every other repository is missing.
func newFakeGitHub(t *testing.T) (*github.GithubClient, *atomic.Int32) {
	t.Helper()

	var userLookups atomic.Int32
	commitDates := map[string]string{
		"C2": "2023-06-01T12:00:00Z",
		"C3": "2023-06-03T08:30:00Z",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, _ *http.Request) {
		userLookups.Add(1)
		writeJSON(w, map[string]any{"login": "alice"})
	})
	mux.HandleFunc("/repos/alice/pizza", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"name":             "pizza",
			"description":      "Bakes commits",
			"html_url":         "https://github.com/alice/pizza",
			"created_at":       "2022-01-02T03:04:05Z",
			"stargazers_count": 42,
		})
	})
	mux.HandleFunc("/repos/alice/pizza/git/matching-refs/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []any{
			map[string]any{"ref": "refs/heads/main", "object": map[string]any{"sha": "C2"}},
			map[string]any{"ref": "refs/heads/feature", "object": map[string]any{"sha": "C3"}},
			map[string]any{"ref": "refs/tags/v1", "object": map[string]any{"sha": "C2"}},
		})
	})
	mux.HandleFunc("/repos/alice/pizza/commits/", func(w http.ResponseWriter, r *http.Request) {
		sha := strings.TrimPrefix(r.URL.Path, "/repos/alice/pizza/commits/")
		writeJSON(w, map[string]any{
			"sha":    sha,
			"commit": map[string]any{"author": map[string]any{"name": "Alice", "date": commitDates[sha]}},
		})
	})
	mux.HandleFunc("/repos/alice/empty", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"name":       "empty",
			"html_url":   "https://github.com/alice/empty",
			"created_at": "2023-01-01T00:00:00Z",
		})
	})
	mux.HandleFunc("/repos/alice/empty/git/matching-refs/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message": "Git Repository is empty."}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := github.NewClient(srv.Client())
	require.NoError(t, client.SetBaseURL(srv.URL))
	return client, &userLookups
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "JSON",
			input: `["pizza", {"name": "oven", "url": "https://pizza.example.com", "tags": ["go"], "order": 2}]`,
		},
		{
			name: "YAML",
			input: `
- pizza
- name: oven
  url: https://pizza.example.com
  tags: [go]
  order: 2
`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			projects, err := Decode(strings.NewReader(tt.input))
			require.NoError(t, err)
			require.Len(t, projects, 2)

			assert.Equal(t, "pizza", projects[0].Name)
			assert.Nil(t, projects[0].Description)
			assert.Nil(t, projects[0].URL)

			assert.Equal(t, "oven", projects[1].Name)
			require.NotNil(t, projects[1].URL)
			assert.Equal(t, "https://pizza.example.com", *projects[1].URL)
			assert.Contains(t, projects[1].Extra, "tags")
			assert.Contains(t, projects[1].Extra, "order")
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "JSON number entry", input: `["pizza", 42]`},
		{name: "JSON nested list", input: `[["pizza"]]`},
		{name: "JSON object without name", input: `[{"url": "https://example.com"}]`},
		{name: "YAML number entry", input: "- 42\n"},
		{name: "YAML list entry", input: "- [pizza]\n"},
		{name: "Not a list", input: `{"name": "pizza"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}

	_, err := Decode(strings.NewReader(`[42]`))
	assert.ErrorIs(t, err, ErrUnsupportedDefinition)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "projects.json")
	require.NoError(t, os.WriteFile(path, []byte(`["pizza"]`), 0o600))

	projects, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Project{{Name: "pizza"}}, projects)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestEnrich(t *testing.T) {
	t.Parallel()

	client, userLookups := newFakeGitHub(t)
	e := NewEnricher(client, "", nil)

	m, err := e.Enrich(context.Background(), Project{Name: "pizza"})
	require.NoError(t, err)

	require.NotNil(t, m.Description)
	assert.Equal(t, "Bakes commits", *m.Description)
	require.NotNil(t, m.URL)
	assert.Equal(t, "https://github.com/alice/pizza", *m.URL)
	assert.Equal(t, 42, m.Stars)
	assert.Equal(t, map[string]Branch{
		"main":    {Commit: "C2", Date: "2023-06-01T12:00:00+00:00"},
		"feature": {Commit: "C3", Date: "2023-06-03T08:30:00+00:00"},
	}, m.Branches)

	_, err = e.Enrich(context.Background(), Project{Name: "empty"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), userLookups.Load())
}

func TestEnrich_KeepsDefinedFields(t *testing.T) {
	t.Parallel()

	client, userLookups := newFakeGitHub(t)
	e := NewEnricher(client, "alice", nil)

	description, url := "My own words", "https://pizza.example.com"
	m, err := e.Enrich(context.Background(), Project{Name: "pizza", Description: &description, URL: &url})
	require.NoError(t, err)
	assert.Equal(t, "My own words", *m.Description)
	assert.Equal(t, "https://pizza.example.com", *m.URL)
	assert.Zero(t, userLookups.Load())
}

func TestEnrich_MissingRepository(t *testing.T) {
	t.Parallel()

	client, _ := newFakeGitHub(t)
	e := NewEnricher(client, "alice", nil)

	_, err := e.Enrich(context.Background(), Project{Name: "gone"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alice/gone")
}

func TestEnrichAll_Duplicates(t *testing.T) {
	t.Parallel()

	client, _ := newFakeGitHub(t)
	e := NewEnricher(client, "", nil)

	first, second := "first", "second"
	all, err := e.EnrichAll(context.Background(), []Project{
		{Name: "pizza", Description: &first},
		{Name: "empty"},
		{Name: "pizza", Description: &second},
	})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "pizza", all[0].Name)
	assert.Equal(t, "second", *all[0].Description)
	assert.Equal(t, "empty", all[1].Name)

	_, err = e.EnrichAll(context.Background(), []Project{{Name: "pizza"}, {Name: "gone"}})
	assert.Error(t, err)
}

func TestMetadataMarshalJSON(t *testing.T) {
	t.Parallel()

	client, _ := newFakeGitHub(t)
	e := NewEnricher(client, "alice", nil)

	projects, err := Decode(strings.NewReader(`[{"name": "empty", "tags": ["go"], "stars": 7}]`))
	require.NoError(t, err)

	all, err := e.EnrichAll(context.Background(), projects)
	require.NoError(t, err)

	raw, err := json.Marshal(all)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)

	got := decoded[0]
	assert.Equal(t, "empty", got["name"])
	assert.Nil(t, got["description"])
	assert.Equal(t, "https://github.com/alice/empty", got["url"])
	assert.Equal(t, []any{"go"}, got["tags"])
	assert.Equal(t, float64(0), got["stars"])
	assert.Equal(t, map[string]any{}, got["branches"])
	assert.Equal(t, "1970-01-01T00:00:00+00:00", got["last_activity"])
	assert.Equal(t, "2023-01-01T00:00:00+00:00", got["date_created"])
}
