package writer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-metadata-sync/internal/tablestore"
)

type testRecord struct {
	pk, rk string
	props  map[string]any
}

func (r testRecord) Entity() tablestore.Entity {
	return tablestore.Entity{PartitionKey: r.pk, RowKey: r.rk, Properties: r.props}
}

func (r testRecord) Label() string { return r.pk + "/" + r.rk }

// failingService rejects upserts for selected row keys and can fail table creation.
type failingService struct {
	*tablestore.MemoryService
	createErr error
	failRows  map[string]bool
}

func (s *failingService) CreateTable(ctx context.Context, name string) (tablestore.Table, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	t, err := s.MemoryService.CreateTable(ctx, name)
	if err != nil {
		return nil, err
	}
	return &failingTable{Table: t, failRows: s.failRows}, nil
}

func (s *failingService) Table(name string) tablestore.Table {
	return &failingTable{Table: s.MemoryService.Table(name), failRows: s.failRows}
}

type failingTable struct {
	tablestore.Table
	failRows map[string]bool
}

func (t *failingTable) UpsertEntity(ctx context.Context, e tablestore.Entity) error {
	if t.failRows[e.RowKey] {
		return errors.New("simulated upsert failure")
	}
	return t.Table.UpsertEntity(ctx, e)
}

func newTestWriter(svc tablestore.Service) *Writer {
	return New(svc, slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestWriter_Write(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the table and upserts every record", func(t *testing.T) {
		svc := tablestore.NewMemoryService()
		w := newTestWriter(svc)

		res, err := w.Write(ctx, "repometadata",
			testRecord{pk: "GitHub", rk: "1"},
			testRecord{pk: "GitHub", rk: "2"},
		)

		require.NoError(t, err)
		assert.Equal(t, Result{Written: 2}, res)
		assert.Equal(t, 2, svc.Count("repometadata"))
	})

	t.Run("existing table is reused", func(t *testing.T) {
		svc := tablestore.NewMemoryService()
		_, err := svc.CreateTable(ctx, "repometadata")
		require.NoError(t, err)
		w := newTestWriter(svc)

		res, err := w.Write(ctx, "repometadata", testRecord{pk: "GitHub", rk: "1"})

		require.NoError(t, err)
		assert.Equal(t, 1, res.Written)
		assert.Equal(t, 1, svc.Count("repometadata"))
	})

	t.Run("second write with the same key replaces the first", func(t *testing.T) {
		svc := tablestore.NewMemoryService()
		w := newTestWriter(svc)

		_, err := w.Write(ctx, "t", testRecord{pk: "acme", rk: "k", props: map[string]any{"Status": "added", "Old": true}})
		require.NoError(t, err)
		_, err = w.Write(ctx, "t", testRecord{pk: "acme", rk: "k", props: map[string]any{"Status": "removed"}})
		require.NoError(t, err)

		e, err := svc.Table("t").GetEntity(ctx, "acme", "k")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"Status": "removed"}, e.Properties)
		assert.Equal(t, 1, svc.Count("t"))
	})

	t.Run("a failing record does not stop the batch", func(t *testing.T) {
		svc := &failingService{MemoryService: tablestore.NewMemoryService(), failRows: map[string]bool{"2": true}}
		w := newTestWriter(svc)

		res, err := w.Write(ctx, "repometadata",
			testRecord{pk: "GitHub", rk: "1"},
			testRecord{pk: "GitHub", rk: "2"},
			testRecord{pk: "GitHub", rk: "3"},
		)

		require.NoError(t, err)
		assert.Equal(t, 2, res.Written)
		assert.Equal(t, []string{"GitHub/2"}, res.Failed)
		assert.Equal(t, 2, svc.Count("repometadata"))
	})

	t.Run("table creation failure is returned", func(t *testing.T) {
		createErr := errors.New("forbidden")
		svc := &failingService{MemoryService: tablestore.NewMemoryService(), createErr: createErr}
		w := newTestWriter(svc)

		_, err := w.Write(ctx, "repometadata", testRecord{pk: "GitHub", rk: "1"})

		assert.ErrorIs(t, err, createErr)
	})
}

func TestWriter_Open_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	svc := tablestore.NewMemoryService()
	w := newTestWriter(svc)

	errs := make(chan error, 16)
	for i := 0; i < cap(errs); i++ {
		go func() {
			table, err := w.Open(ctx, "RepoFileMetadata")
			if err == nil {
				err = table.UpsertEntity(ctx, tablestore.Entity{PartitionKey: "acme", RowKey: "x"})
			}
			errs <- err
		}()
	}
	for i := 0; i < cap(errs); i++ {
		assert.NoError(t, <-errs)
	}
	assert.Equal(t, 1, svc.Count("RepoFileMetadata"))
}
