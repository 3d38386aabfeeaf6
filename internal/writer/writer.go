// Package writer upserts records into table-store tables, creating the table
// on first use.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"repo-metadata-sync/internal/tablestore"
)

// Record is anything that maps to a single table entity.
type Record interface {
	Entity() tablestore.Entity
	// Label identifies the record in log lines.
	Label() string
}

// Result counts the outcome of one Write call.
type Result struct {
	Written int
	Failed  []string
}

// Writer persists records through a tablestore.Service.
type Writer struct {
	svc    tablestore.Service
	logger *slog.Logger
}

// New creates a new Writer.
func New(svc tablestore.Service, logger *slog.Logger) *Writer {
	return &Writer{svc: svc, logger: logger}
}

// Open creates the table, or returns a handle to it when another writer got
// there first.
func (w *Writer) Open(ctx context.Context, table string) (tablestore.Table, error) {
	t, err := w.svc.CreateTable(ctx, table)
	if err == nil {
		w.logger.Info("Created table", "table", table)
		return t, nil
	}
	if errors.Is(err, tablestore.ErrTableExists) {
		w.logger.Debug("Table already exists, using existing table", "table", table)
		return w.svc.Table(table), nil
	}
	return nil, fmt.Errorf("open table %q: %w", table, err)
}

// Write opens the table and upserts every record. A failing record is logged
// and skipped; only a failure to open the table is returned.
func (w *Writer) Write(ctx context.Context, table string, records ...Record) (Result, error) {
	t, err := w.Open(ctx, table)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, rec := range records {
		if err := t.UpsertEntity(ctx, rec.Entity()); err != nil {
			w.logger.Error("Failed to upsert record", "table", table, "record", rec.Label(), "error", err)
			res.Failed = append(res.Failed, rec.Label())
			continue
		}
		res.Written++
	}
	return res, nil
}
