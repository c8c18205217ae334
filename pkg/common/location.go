// package common holds helpers shared by the git repository source and its
// providers for dealing with repository locations.
package common

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// remoteSchemes are the URL schemes treated as remote repositories.
var remoteSchemes = map[string]bool{
	"https": true,
	"git":   true,
	"file":  true,
}

// IsRemote reports whether location is a repository URL rather than a local
// filesystem path.
func IsRemote(location string) bool {
	parsedURL, err := url.Parse(location)
	if err != nil {
		return false
	}
	return remoteSchemes[parsedURL.Scheme]
}

// NormalizeGitURL attempts to take a raw git repo URL and ensure it is normalized
// before it is used as a cache key or rendered into the feed
func NormalizeGitURL(repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil {
		return "", err
	}

	// Check if it has a valid protocol specified (e.g., https, git, file)
	if !remoteSchemes[parsedURL.Scheme] {
		return "", fmt.Errorf("repo URL missing valid protocol scheme (https, git, file): %s", repoURL)
	}

	// Trim trailing slashes
	// Example: https://github.com/open-sauced/pizza/ to https://github.com/open-sauced/pizza
	trimmedPath := strings.TrimSuffix(parsedURL.Path, "/")

	// Remove .git suffix if present
	// Example: https://github.com/open-sauced/pizza.git to https://github.com/open-sauced/pizza
	trimmedPath = strings.TrimSuffix(trimmedPath, ".git")

	parsedURL.Path = trimmedPath
	parsedURL.User = nil

	return parsedURL.String(), nil
}

// RepoName derives a repository name from a URL or a local path, i.e. the
// last path element without a .git suffix.
func RepoName(location string) string {
	var p string
	if IsRemote(location) {
		parsedURL, err := url.Parse(location)
		if err != nil {
			return ""
		}
		p = path.Clean("/" + parsedURL.Path)
		p = path.Base(strings.TrimSuffix(p, ".git"))
	} else {
		p = filepath.Base(strings.TrimSuffix(filepath.Clean(location), ".git"))
	}

	if p == "/" || p == "." {
		return ""
	}
	return p
}

// CachePath maps a repository URL to a relative directory, host first:
// https://github.com/open-sauced/pizza.git becomes github.com/open-sauced/pizza.
func CachePath(repoURL string) (string, error) {
	normalized, err := NormalizeGitURL(repoURL)
	if err != nil {
		return "", err
	}

	parsedURL, err := url.Parse(normalized)
	if err != nil {
		return "", err
	}

	rel := path.Clean("/" + parsedURL.Host + "/" + parsedURL.Path)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("repo URL has no usable path: %s", repoURL)
	}
	return filepath.FromSlash(rel), nil
}
