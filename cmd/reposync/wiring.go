package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"repo-metadata-sync/internal/config"
	"repo-metadata-sync/internal/cursor"
	"repo-metadata-sync/internal/github"
	"repo-metadata-sync/internal/scanner"
	"repo-metadata-sync/internal/syncer"
	"repo-metadata-sync/internal/tablestore"
	"repo-metadata-sync/internal/tablestore/aztable"
	"repo-metadata-sync/internal/tablestore/pgtable"
	"repo-metadata-sync/internal/writer"
)

// app holds the wired pipeline for one command invocation.
type app struct {
	store   tablestore.Service
	syncer  *syncer.Syncer
	closers []func()
}

// Close releases every connection the app opened, most recent first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openStore picks the table-store backend from the connection string scheme.
func openStore(ctx context.Context, connString string) (tablestore.Service, func(), error) {
	switch {
	case strings.HasPrefix(connString, "postgres://"), strings.HasPrefix(connString, "postgresql://"):
		svc, err := pgtable.Open(ctx, connString)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc.Close, nil
	case strings.HasPrefix(connString, "memory://"):
		return tablestore.NewMemoryService(), func() {}, nil
	default:
		svc, err := aztable.NewFromConnectionString(connString)
		if err != nil {
			return nil, nil, err
		}
		return svc, func() {}, nil
	}
}

// openCursors returns a redis cursor store when REDIS_URL is set and a table
// in the record store otherwise.
func openCursors(cfg *config.Config, store tablestore.Service) (cursor.Store, func(), error) {
	if cfg.RedisURL == "" {
		return cursor.NewTableStore(store, cfg.CursorTable), func() {}, nil
	}
	rs, err := cursor.NewRedisStoreFromURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() { _ = rs.Close() }, nil
}

// newApp connects every backend named by cfg and wires the syncer.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	store, closeStore, err := openStore(ctx, cfg.StoreConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to open table store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	cursors, closeCursors, err := openCursors(cfg, store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open cursor store: %w", err)
	}
	a.closers = append(a.closers, closeCursors)

	ghClient, err := github.NewClient(cfg.GithubToken, logger).WithBaseURL(cfg.GithubAPIURL)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.syncer = syncer.NewSyncer(
		ghClient,
		scanner.New(ghClient, cursors, logger),
		writer.New(store, logger),
		logger,
		syncer.Options{
			Account:    cfg.Account,
			RepoTable:  cfg.RepoTable,
			FileTable:  cfg.FileTable,
			MaxWorkers: cfg.MaxWorkers,
		},
	)
	return a, nil
}
