// package validator provides the necessary utilities
// to validate crawl requests before any source is contacted
package validator

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	githubUsernameRegex = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9]|-[A-Za-z0-9]){0,38}$`)
)

// Validator: type which contains a map of validation errors (error name : string -> error_description : string)
type Validator struct {
	Errors map[string]string
}

// New: return an instance of a validator
func New() *Validator {
	return &Validator{Errors: make(map[string]string)}
}

// Valid: returns true if there are no errors, otherwise false
func (v *Validator) Valid() bool {
	return len(v.Errors) == 0
}

// AddError: add a new error to the validator
func (v *Validator) AddError(key, message string) {
	if _, exists := v.Errors[key]; !exists {
		v.Errors[key] = message
	}
}

// CheckConstraint: Receives a constraint that evaluates to a boolean expression to validate
// false -> add error
// true -> skip
func (v *Validator) CheckConstraint(ok bool, key, message string) {
	if !ok {
		v.AddError(key, message)
	}
}

// Err: returns nil when valid, otherwise one error listing every message
// ordered by key
func (v *Validator) Err() error {
	if v.Valid() {
		return nil
	}

	keys := make([]string, 0, len(v.Errors))
	for k := range v.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fmt.Sprintf("%s: %s", k, v.Errors[k]))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func ValidateAuthorName(validator *Validator, name string) {
	validator.CheckConstraint(strings.TrimSpace(name) != "", "author_name", "author name must be provided")
}

// MaxDays bounds the crawl window to a century.
const MaxDays = 36500


func ValidateDays(validator *Validator, days int) {
	validator.CheckConstraint(days >= 0, "days", fmt.Sprintf("days must not be negative: %d", days))
	validator.CheckConstraint(days <= MaxDays, "days", fmt.Sprintf("days must be at most %d: %d", MaxDays, days))
}

// ValidateTimezone accepts an empty zone, meaning commits keep their own offset
func ValidateTimezone(validator *Validator, tz string) {
	if tz == "" {
		return
	}
	_, err := time.LoadLocation(tz)
	validator.CheckConstraint(err == nil, "timezone", fmt.Sprintf("unknown timezone %q", tz))
}

func ValidatePatterns(validator *Validator, key string, patterns []string) {
	for _, pattern := range patterns {
		validator.CheckConstraint(doublestar.ValidatePattern(pattern), key, fmt.Sprintf("invalid repository pattern: %q", pattern))
	}
}

func ValidateGitHubUsername(validator *Validator, key, name string) {
	validator.CheckConstraint(MatchesGithubUsername(name), key, fmt.Sprintf("%q is not a valid GitHub user or organization name", name))
}

func MatchesGithubUsername(name string) bool {
	return githubUsernameRegex.MatchString(name)
}
