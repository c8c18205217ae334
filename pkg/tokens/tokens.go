// package tokens supplies bearer tokens to the remote sources. The crawl
// itself only ever calls a Func; where the secret lives is decided here.
package tokens

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken is returned when no provider could produce a token.
var ErrNoToken = errors.New("no token available")

// Func retrieves a bearer token.
type Func func() (string, error)

// Static always returns the given token.
func Static(token string) Func {
	return func() (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
}

// FromEnv reads the token from an environment variable at call time.
func FromEnv(name string) Func {
	return func() (string, error) {
		token := os.Getenv(name)
		if token == "" {
			return "", fmt.Errorf("%w: environment variable %s is empty", ErrNoToken, name)
		}
		return token, nil
	}
}

// FromFile reads the token from the first line of a file.
func FromFile(path string) Func {
	return func() (string, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("could not read token file %s: %w", path, err)
		}

		token, _, _ := strings.Cut(string(raw), "\n")
		token = strings.TrimSpace(token)
		if token == "" {
			return "", fmt.Errorf("%w: token file %s is empty", ErrNoToken, path)
		}
		return token, nil
	}
}

// First tries each provider in order and returns the first token found.
// Nil providers are skipped. A provider failing with anything but ErrNoToken,
// such as an unreadable token file, ends the search with that error.
func First(providers ...Func) Func {
	return func() (string, error) {
		var missing []error
		for _, p := range providers {
			if p == nil {
				continue
			}
			token, err := p()
			switch {
			case err == nil:
				return token, nil
			case errors.Is(err, ErrNoToken):
				missing = append(missing, err)
			default:
				return "", err
			}
		}
		if len(missing) == 0 {
			return "", ErrNoToken
		}
		return "", errors.Join(missing...)
	}
}
