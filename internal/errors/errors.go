// internal/errors/errors.go
package errors

import (
	"fmt"
	"strings"
)

// ErrInvalidRepoFormat is returned when a repository full name is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// APIError is a non-success response from the GitHub REST API.
type APIError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("GitHub API error: %d - %s (URL: %s)", e.StatusCode, strings.TrimSpace(e.Body), e.URL)
}

// MissingConfigError reports a required configuration value that was not supplied.
type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("%s is a required configuration field", e.Key)
}
