// internal/syncer/syncer.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"repo-metadata-sync/internal/model"
	"repo-metadata-sync/internal/scanner"
	"repo-metadata-sync/internal/writer"
)

const (
	// DefaultMaxWorkers caps the number of repositories scanned in parallel.
	DefaultMaxWorkers = 32
)

// RepoLister enumerates repositories.
type RepoLister interface {
	ListAccountRepositories(ctx context.Context, account string) ([]model.Repository, error)
	ListAccessibleRepositories(ctx context.Context) ([]model.Repository, error)
}

// ChangeScanner reports changed files and advances the per-repository cursor.
type ChangeScanner interface {
	ChangedFiles(ctx context.Context, id model.RepoIdentifier) (*scanner.Changes, error)
	MarkScanned(ctx context.Context, id model.RepoIdentifier, sha string) error
}

// RecordWriter upserts records into a named table.
type RecordWriter interface {
	Write(ctx context.Context, table string, records ...writer.Record) (writer.Result, error)
}

// Options configures a Syncer.
type Options struct {
	// Account is the organization or user seeded by SeedRepositories.
	Account    string
	RepoTable  string
	FileTable  string
	MaxWorkers int
}

// Syncer orchestrates listing, scanning and storing.
type Syncer struct {
	lister  RepoLister
	scanner ChangeScanner
	writer  RecordWriter
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(lister RepoLister, scanner ChangeScanner, writer RecordWriter, logger *slog.Logger, opts Options) *Syncer {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	return &Syncer{
		lister:  lister,
		scanner: scanner,
		writer:  writer,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
	}
}

// SeedReport summarises one seed run.
type SeedReport struct {
	RunID  string   `json:"run_id"`
	Table  string   `json:"table"`
	Listed int      `json:"listed"`
	Stored int      `json:"stored"`
	Failed []string `json:"failed,omitempty"`
}

// SeedRepositories lists every repository of the configured account and
// upserts one unprocessed record per repository. An empty table name selects
// the configured repository table. Listing failures abort the run.
func (s *Syncer) SeedRepositories(ctx context.Context, table string) (*SeedReport, error) {
	if table == "" {
		table = s.opts.RepoTable
	}
	report := &SeedReport{RunID: uuid.NewString(), Table: table}
	logger := s.logger.With("run_id", report.RunID, "account", s.opts.Account, "table", table)
	logger.Info("Starting repository seed")

	repos, err := s.lister.ListAccountRepositories(ctx, s.opts.Account)
	if err != nil {
		return nil, err
	}
	report.Listed = len(repos)
	logger.Info("Fetched repositories", "count", len(repos))

	records := make([]writer.Record, len(repos))
	for i, r := range repos {
		records[i] = model.NewRepositoryRecord(r)
	}

	res, err := s.writer.Write(ctx, table, records...)
	if err != nil {
		return nil, err
	}
	report.Stored = res.Written
	report.Failed = res.Failed

	logger.Info("Repository seed finished", "stored", report.Stored, "failed", len(report.Failed))
	return report, nil
}

// TaskResult is the outcome of scanning one repository.
type TaskResult struct {
	Repo          string
	Files         int
	Written       int
	FailedRecords []string
	Err           error
}

// ScanReport aggregates every task of one scan run.
type ScanReport struct {
	RunID          string    `json:"run_id"`
	Repositories   int       `json:"repositories"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	FailedRepos    []string  `json:"failed_repos,omitempty"`
	RecordsWritten int       `json:"records_written"`
	RecordsFailed  int       `json:"records_failed"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// ScanFileChanges lists every repository visible to the credential and scans
// them on a bounded worker pool. A failing repository never affects the others.
// Only a listing failure is returned as an error.
func (s *Syncer) ScanFileChanges(ctx context.Context) (*ScanReport, error) {
	report := &ScanReport{RunID: uuid.NewString(), StartedAt: s.now()}
	logger := s.logger.With("run_id", report.RunID)
	logger.Info("Starting file change scan")

	repos, err := s.lister.ListAccessibleRepositories(ctx)
	if err != nil {
		return nil, err
	}
	report.Repositories = len(repos)
	logger.Info("Found repositories", "count", len(repos))

	for _, res := range s.runScanTasks(ctx, repos) {
		report.RecordsWritten += res.Written
		report.RecordsFailed += len(res.FailedRecords)
		if res.Err != nil {
			report.Failed++
			report.FailedRepos = append(report.FailedRepos, res.Repo)
			continue
		}
		report.Succeeded++
	}
	report.FinishedAt = s.now()

	logger.Info("File change scan finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"records_written", report.RecordsWritten,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

// runScanTasks runs one task per repository with at most
// min(MaxWorkers, len(repos)) in flight and waits for all of them.
func (s *Syncer) runScanTasks(ctx context.Context, repos []model.Repository) []TaskResult {
	results := make([]TaskResult, len(repos))
	if len(repos) == 0 {
		return results
	}

	// A plain Group: task failures must not cancel their siblings.
	var g errgroup.Group
	g.SetLimit(min(s.opts.MaxWorkers, len(repos)))

	for i, repo := range repos {
		g.Go(func() error {
			results[i] = s.scanRepo(ctx, repo)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// scanRepo scans one repository, writes its records and advances its cursor.
// Errors and panics end up in the returned TaskResult.
func (s *Syncer) scanRepo(ctx context.Context, repo model.Repository) (res TaskResult) {
	res.Repo = repo.FullName
	logger := s.logger.With("repo", repo.FullName)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic: %v", r)
		}
		if res.Err != nil {
			logger.Error("Error processing repository", "error", res.Err)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	id, err := model.ParseRepoIdentifier(repo.FullName)
	if err != nil {
		res.Err = err
		return res
	}
	id.DefaultBranch = repo.DefaultBranch
	logger.Info("Processing repository")

	changes, err := s.scanner.ChangedFiles(ctx, id)
	if err != nil {
		res.Err = fmt.Errorf("scan: %w", err)
		return res
	}
	res.Files = len(changes.Files)

	observedAt := s.now()
	records := make([]writer.Record, len(changes.Files))
	for i, f := range changes.Files {
		records[i] = model.FileChangeRecord{
			Owner:      id.Owner,
			Repo:       id.Name,
			Path:       f.Path,
			Status:     f.Status,
			ObservedAt: observedAt,
		}
	}

	wres, err := s.writer.Write(ctx, s.opts.FileTable, records...)
	if err != nil {
		res.Err = fmt.Errorf("write: %w", err)
		return res
	}
	res.Written = wres.Written
	res.FailedRecords = wres.Failed
	if len(wres.Failed) > 0 {
		res.Err = fmt.Errorf("write: %d of %d records failed", len(wres.Failed), len(records))
		return res
	}

	if err := s.scanner.MarkScanned(ctx, id, changes.HeadSHA); err != nil {
		res.Err = err
		return res
	}

	logger.Info("Repository processed", "files", res.Files, "written", res.Written)
	return res
}

// Start runs a scan immediately and then once per interval until the context
// is cancelled. Each report is handed to onReport. A listing failure ends the loop.
func (s *Syncer) Start(ctx context.Context, interval time.Duration, onReport func(*ScanReport)) error {
	s.logger.Info("Starting periodic scanner", "interval", interval.String(), "max_workers", s.opts.MaxWorkers)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			s.logger.Info("Periodic scanner shutting down", "reason", ctx.Err())
			return nil
		}

		report, err := s.ScanFileChanges(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if onReport != nil {
			onReport(report)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info("Periodic scanner shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
