// Package scanner works out which files of a repository changed since it was
// last scanned.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"repo-metadata-sync/internal/cursor"
	"repo-metadata-sync/internal/github"
	"repo-metadata-sync/internal/model"
)

// GitSource is the subset of the GitHub client the scanner needs.
type GitSource interface {
	HeadCommit(ctx context.Context, id model.RepoIdentifier) (string, error)
	TreeFiles(ctx context.Context, id model.RepoIdentifier, sha string) ([]string, error)
	CompareFiles(ctx context.Context, id model.RepoIdentifier, base, head string) ([]model.FileChange, error)
}

// Changes is the outcome of one scan. HeadSHA is empty for an empty repository.
type Changes struct {
	HeadSHA string
	Files   []model.FileChange
}

// Scanner computes changed files against the cursor of each repository.
type Scanner struct {
	src     GitSource
	cursors cursor.Store
	logger  *slog.Logger
}

// New creates a new Scanner.
func New(src GitSource, cursors cursor.Store, logger *slog.Logger) *Scanner {
	return &Scanner{src: src, cursors: cursors, logger: logger}
}

// ChangedFiles returns the files changed between the repository's cursor and
// its current head. Without a usable cursor, or when the comparison is too
// large to list, every file of the head tree is reported as added. A truncated
// tree is an error so the cursor is never advanced past unseen files.
func (s *Scanner) ChangedFiles(ctx context.Context, id model.RepoIdentifier) (*Changes, error) {
	logger := s.logger.With("owner", id.Owner, "repo", id.Name)

	head, err := s.src.HeadCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	if head == "" {
		logger.Info("Repository is empty, nothing to scan")
		return &Changes{}, nil
	}

	last, err := s.cursors.Get(ctx, id.FullName())
	if err != nil {
		return nil, err
	}
	if last == head {
		logger.Info("No new commits since last scan", "head", head)
		return &Changes{HeadSHA: head}, nil
	}

	if last != "" {
		files, err := s.src.CompareFiles(ctx, id, last, head)
		if err == nil {
			logger.Info("Compared against last scanned commit", "base", last, "head", head, "files", len(files))
			return &Changes{HeadSHA: head, Files: files}, nil
		}
		switch {
		case github.IsNotFound(err):
			logger.Warn("Last scanned commit no longer reachable, rescanning full tree", "base", last)
		case errors.Is(err, github.ErrCompareCapped):
			logger.Warn("Too many changed files to compare, rescanning full tree", "base", last, "head", head)
		default:
			return nil, err
		}
	}

	paths, err := s.src.TreeFiles(ctx, id, head)
	if err != nil {
		return nil, err
	}
	files := make([]model.FileChange, len(paths))
	for i, p := range paths {
		files[i] = model.FileChange{Path: p, Status: model.StatusAdded}
	}
	logger.Info("Listed full tree", "head", head, "files", len(files))
	return &Changes{HeadSHA: head, Files: files}, nil
}

// MarkScanned advances the repository's cursor to sha.
func (s *Scanner) MarkScanned(ctx context.Context, id model.RepoIdentifier, sha string) error {
	if sha == "" {
		return nil
	}
	if err := s.cursors.Set(ctx, id.FullName(), sha); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}
