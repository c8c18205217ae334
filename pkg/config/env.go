// package config resolves the crawler's configuration from the environment,
// an optional .env file and an optional yaml crawl file.
package config

import (
	"github.com/kelseyhightower/envconfig"

	"github.com/open-sauced/pizza/crawler/pkg/database"
	"github.com/open-sauced/pizza/crawler/pkg/sourcehut"
	"github.com/open-sauced/pizza/crawler/pkg/tokens"
)

// EnvPrefix prefixes every environment variable read by LoadEnv.
const EnvPrefix = "CRAWLER"

// Env holds all environment-based configuration.
// Field names map to environment variables with the CRAWLER_ prefix.
type Env struct {
	// LogLevel is the minimum level logged.
	// Env: CRAWLER_LOG_LEVEL (default: info)
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// GitHubToken is a personal access token for the GitHub API.
	// Env: CRAWLER_GITHUB_TOKEN
	GitHubToken string `envconfig:"GITHUB_TOKEN"`

	// GitHubTokenFile is a file holding the GitHub token on its first line.
	// Env: CRAWLER_GITHUB_TOKEN_FILE
	GitHubTokenFile string `envconfig:"GITHUB_TOKEN_FILE"`

	// GitHubAPIURL overrides the GitHub REST API root.
	// Env: CRAWLER_GITHUB_API_URL
	GitHubAPIURL string `envconfig:"GITHUB_API_URL"`

	// SourcehutToken is an OAuth token for the git.sr.ht API.
	// Env: CRAWLER_SOURCEHUT_TOKEN
	SourcehutToken string `envconfig:"SOURCEHUT_TOKEN"`

	// SourcehutTokenFile is a file holding the sourcehut token on its first line.
	// Env: CRAWLER_SOURCEHUT_TOKEN_FILE
	SourcehutTokenFile string `envconfig:"SOURCEHUT_TOKEN_FILE"`

	// SourcehutURL is the git.sr.ht GraphQL endpoint.
	// Env: CRAWLER_SOURCEHUT_URL (default: https://git.sr.ht/query)
	SourcehutURL string `envconfig:"SOURCEHUT_URL" default:"https://git.sr.ht/query"`

	// SourcehutWebURL is the base of sourcehut repository URLs.
	// Env: CRAWLER_SOURCEHUT_WEB_URL (default: https://git.sr.ht)
	SourcehutWebURL string `envconfig:"SOURCEHUT_WEB_URL" default:"https://git.sr.ht"`

	// Postgres feed store connection.
	// Env: CRAWLER_DATABASE_HOST, _PORT (default: 5432), _USER, _PASSWORD,
	// _DBNAME, _SSLMODE (default: require)
	DatabaseHost     string `envconfig:"DATABASE_HOST"`
	DatabasePort     string `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseUser     string `envconfig:"DATABASE_USER"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	DatabaseDBName   string `envconfig:"DATABASE_DBNAME"`
	DatabaseSSLMode  string `envconfig:"DATABASE_SSLMODE" default:"require"`

	// CacheDir keeps bare clones of remote git repositories.
	// Env: CRAWLER_CACHE_DIR
	CacheDir string `envconfig:"CACHE_DIR"`

	// MinFreeDiskGb is the free disk the clone cache keeps.
	// Env: CRAWLER_MIN_FREE_DISK_GB (default: 1)
	MinFreeDiskGb uint64 `envconfig:"MIN_FREE_DISK_GB" default:"1"`

	// ServerPort is the port "serve" listens on.
	// Env: CRAWLER_SERVER_PORT (default: 8080)
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
}

// Database returns the feed store connection options, ok is false when no
// database host is configured.
func (e Env) Database() (opts database.Options, ok bool) {
	opts = database.Options{
		Host:     e.DatabaseHost,
		Port:     e.DatabasePort,
		User:     e.DatabaseUser,
		Password: e.DatabasePassword,
		DBName:   e.DatabaseDBName,
		SSLMode:  e.DatabaseSSLMode,
	}
	return opts, e.DatabaseHost != ""
}

// LoadEnv loads configuration from CRAWLER_ prefixed environment variables.
func LoadEnv() (Env, error) {
	var cfg Env
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Env{}, err
	}
	return cfg, nil
}

// GitHubTokens returns the GitHub token provider: the variable, then the
// file, then the conventional GITHUB_TOKEN variable.
func (e Env) GitHubTokens() tokens.Func {
	return tokens.First(
		tokens.Static(e.GitHubToken),
		fileTokens(e.GitHubTokenFile),
		tokens.FromEnv("GITHUB_TOKEN"),
	)
}

// SourcehutTokens returns the sourcehut token provider: the variable, then
// the file.
func (e Env) SourcehutTokens() tokens.Func {
	return tokens.First(
		tokens.Static(e.SourcehutToken),
		fileTokens(e.SourcehutTokenFile),
	)
}

// SourcehutEndpoint is the configured GraphQL endpoint.
func (e Env) SourcehutEndpoint() string {
	if e.SourcehutURL == "" {
		return sourcehut.DefaultEndpoint
	}
	return e.SourcehutURL
}

func fileTokens(path string) tokens.Func {
	if path == "" {
		return nil
	}
	return tokens.FromFile(path)
}
