// package server serves activity crawls over HTTP and provides the overall
// request handling.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/open-sauced/pizza/crawler/pkg/activity"
	"github.com/open-sauced/pizza/crawler/pkg/config"
	"github.com/open-sauced/pizza/crawler/pkg/crawler"
	"github.com/open-sauced/pizza/crawler/pkg/github"
	"github.com/open-sauced/pizza/crawler/pkg/output"
	"github.com/open-sauced/pizza/crawler/pkg/validator"
)

// commitCacheSize is the number of GitHub commits kept between requests.
const commitCacheSize = 50_000

// FeedStore persists crawled feeds.
type FeedStore interface {
	StoreFeed(ctx context.Context, commits []activity.Commit) (int, error)
}

// CrawlerServer provides a leveled logger for use during serving requests,
// the environment the sources are configured from and an optional
// FeedStore for persisting served feeds.
type CrawlerServer struct {
	Logger  *zap.SugaredLogger
	Env     config.Env
	Store   FeedStore
	Commits *github.CommitCache

	now func() time.Time
}

// NewCrawlerServer returns a CrawlerServer using the provided logger. store
// may be nil, requests asking for storage are then rejected.
func NewCrawlerServer(env config.Env, store FeedStore, logger *zap.SugaredLogger) (*CrawlerServer, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	commits, err := github.NewCommitCache(commitCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create commit cache: %w", err)
	}

	return &CrawlerServer{
		Logger:  logger,
		Env:     env,
		Store:   store,
		Commits: commits,
		now:     time.Now,
	}, nil
}

// Router returns the handler serving every route.
func (p *CrawlerServer) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(p.logRequests)
	router.Use(middleware.Recoverer)

	router.Get("/ping", p.pingHandler)
	router.Post("/activity", p.handleActivity)

	return router
}

// Run starts the http server on the provided port and shuts it down
// gracefully once ctx is done.
func (p *CrawlerServer) Run(ctx context.Context, serverPort string) error {
	//nolint:errcheck
	defer p.Logger.Sync()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverPort),
		Handler:           p.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		p.Logger.Infof("Starting server on port %s", serverPort)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		p.Logger.Infof("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (p *CrawlerServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			p.Logger.Debugw("request completed",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// activityRequest is the body of POST /activity. Local git repositories are
// not selectable over HTTP.
type activityRequest struct {
	AuthorName     string   `json:"author_name"`
	Days           *int     `json:"days"`
	Timezone       string   `json:"timezone"`
	GitHubUsername string   `json:"github_username"`
	GitHubOrgs     []string `json:"github_orgs"`
	SkipArchived   bool     `json:"skip_archived"`
	Sourcehut      bool     `json:"sourcehut"`
	Include        []string `json:"include"`
	Exclude        []string `json:"exclude"`
	Store          bool     `json:"store"`
}

func (r activityRequest) crawl() config.Crawl {
	c := config.NewCrawl()
	c.AuthorName = r.AuthorName
	if r.Days != nil {
		c.Days = *r.Days
	}
	c.Timezone = r.Timezone
	c.GitHub = config.GitHubCrawl{
		Username:     r.GitHubUsername,
		Orgs:         r.GitHubOrgs,
		SkipArchived: r.SkipArchived,
	}
	c.Sourcehut = r.Sourcehut
	c.Include = r.Include
	c.Exclude = r.Exclude
	return c
}

type errorResponse struct {
	Errors map[string]string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return output.WriteJSON(w, v)
}

func (p *CrawlerServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	var data activityRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&data); err != nil {
		p.Logger.Errorf("Could not decode request json body with error: %v", err)
		http.Error(w, "Could not decode request body", http.StatusBadRequest)
		return
	}

	crawl := data.crawl()

	v := validator.New()
	crawl.Check(v)
	v.CheckConstraint(crawl.Enabled(), "sources", "at least one of github_username or sourcehut must be set")
	v.CheckConstraint(!data.Store || p.Store != nil, "store", "no feed store is configured")
	if !v.Valid() {
		p.Logger.Debugf("Rejected invalid crawl request: %v", v.Errors)
		//nolint:errcheck
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Errors: v.Errors})
		return
	}

	// Validated above
	loc, _ := crawl.Location()

	sourcesCfg := crawl.Sources(p.Env)
	if sourcesCfg.GitHub != nil {
		sourcesCfg.GitHub.CommitCache = p.Commits
	}

	sources, err := crawler.Build(r.Context(), sourcesCfg, p.Logger)
	if err != nil {
		p.Logger.Errorf("Could not configure sources: %v", err)
		http.Error(w, "Could not configure sources", http.StatusInternalServerError)
		return
	}

	commits, err := crawler.Run(r.Context(), sources, crawl.Query(p.now()), p.Logger)
	if err != nil {
		p.Logger.Errorf("Could not crawl activity of %s: %v", crawl.AuthorName, err)
		http.Error(w, fmt.Sprintf("Could not crawl activity: %s", err.Error()), http.StatusBadGateway)
		return
	}

	if data.Store {
		n, err := p.Store.StoreFeed(r.Context(), commits)
		if err != nil {
			p.Logger.Errorf("Could not store feed of %s: %v", crawl.AuthorName, err)
			http.Error(w, "Could not store feed", http.StatusInternalServerError)
			return
		}
		p.Logger.Infof("Stored %d new commits of %s", n, crawl.AuthorName)
	}

	if err := writeJSON(w, http.StatusOK, activity.RenderAll(commits, loc)); err != nil {
		p.Logger.Errorf("Could not write response: %v", err)
	}
}

func (p *CrawlerServer) pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		p.Logger.Errorf("Could not connect to /ping endpoint: %v", err.Error())
		http.Error(w, "Could not connect, server is down", http.StatusInternalServerError)
	}
}
