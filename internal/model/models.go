// internal/model/models.go
package model

import (
	"strconv"
	"strings"
	"time"

	custom_errors "repo-metadata-sync/internal/errors"
	"repo-metadata-sync/internal/tablestore"
)

// RepositoryPartition is the fixed partition label seeded repository records live under.
const RepositoryPartition = "GitHub"

// ProcessingStatus flags whether downstream processing has picked a repository up.
type ProcessingStatus string

const (
	ProcessingNo  ProcessingStatus = "No"
	ProcessingYes ProcessingStatus = "Yes"
)

// ChangeStatus is the per-file status reported by GitHub's compare API.
type ChangeStatus string

const (
	StatusAdded     ChangeStatus = "added"
	StatusModified  ChangeStatus = "modified"
	StatusRemoved   ChangeStatus = "removed"
	StatusRenamed   ChangeStatus = "renamed"
	StatusCopied    ChangeStatus = "copied"
	StatusChanged   ChangeStatus = "changed"
	StatusUnchanged ChangeStatus = "unchanged"
)

// Repository represents the metadata of a GitHub repository as listed by the API.
type Repository struct {
	ID            int64
	Owner         string
	Name          string
	FullName      string
	HTMLURL       string
	DefaultBranch string
}

// RepoIdentifier holds the owner and name of a repository.
type RepoIdentifier struct {
	Owner         string
	Name          string
	DefaultBranch string
}

// FullName returns "owner/name".
func (id RepoIdentifier) FullName() string {
	return id.Owner + "/" + id.Name
}

// ParseRepoIdentifier splits a full name of the form "owner/name".
func ParseRepoIdentifier(fullName string) (RepoIdentifier, error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return RepoIdentifier{}, &custom_errors.ErrInvalidRepoFormat{Repo: fullName}
	}
	return RepoIdentifier{Owner: owner, Name: name}, nil
}

// FileChange is one changed file reported for a repository.
type FileChange struct {
	Path   string
	Status ChangeStatus
}

// RepositoryRecord is the row seeded for every repository of an account.
type RepositoryRecord struct {
	Partition  string
	ID         int64
	Name       string
	FullName   string
	HTMLURL    string
	Processing ProcessingStatus
}

// NewRepositoryRecord maps a listed repository to a fresh, unprocessed record.
func NewRepositoryRecord(r Repository) RepositoryRecord {
	return RepositoryRecord{
		Partition:  RepositoryPartition,
		ID:         r.ID,
		Name:       r.Name,
		FullName:   r.FullName,
		HTMLURL:    r.HTMLURL,
		Processing: ProcessingNo,
	}
}

// Label identifies the record in log lines.
func (r RepositoryRecord) Label() string { return r.Name }

// Entity maps the record to its row in the repository table.
func (r RepositoryRecord) Entity() tablestore.Entity {
	return tablestore.Entity{
		PartitionKey: r.Partition,
		RowKey:       strconv.FormatInt(r.ID, 10),
		Properties: map[string]any{
			"name":       r.Name,
			"full_name":  r.FullName,
			"html_url":   r.HTMLURL,
			"processing": string(r.Processing),
		},
	}
}

// FileChangeRecord is the latest observed status of one file. Keyed by
// (owner, repository, path); history is not retained.
type FileChangeRecord struct {
	Owner      string
	Repo       string
	Path       string
	Status     ChangeStatus
	ObservedAt time.Time
}

// Label identifies the record in log lines.
func (r FileChangeRecord) Label() string { return r.Owner + "/" + r.Repo + ":" + r.Path }

// RowKey is unique per (repository, path) within the owner's partition.
func (r FileChangeRecord) RowKey() string {
	return tablestore.SanitizeKey(r.Repo + "/" + r.Path)
}

// Entity maps the record to its row in the file table, partitioned by owner.
func (r FileChangeRecord) Entity() tablestore.Entity {
	return tablestore.Entity{
		PartitionKey: r.Owner,
		RowKey:       r.RowKey(),
		Properties: map[string]any{
			"Repo":       r.Repo,
			"FilePath":   r.Path,
			"Status":     string(r.Status),
			"ObservedAt": r.ObservedAt.UTC().Format(time.RFC3339),
		},
	}
}
