// Package tablestore defines the two-part-keyed table abstraction records are
// persisted into, plus an in-process implementation.
package tablestore

import (
	"context"
	"encoding/base64"
	"errors"
)

var (
	// ErrTableExists is returned by CreateTable when the table is already present.
	ErrTableExists = errors.New("tablestore: table already exists")

	// ErrTableNotFound is returned by table operations on a table that was never created.
	ErrTableNotFound = errors.New("tablestore: table not found")

	// ErrEntityNotFound is returned by GetEntity when no entity matches the key.
	ErrEntityNotFound = errors.New("tablestore: entity not found")
)

// Entity is a single row. PartitionKey groups related rows, RowKey is unique
// within its partition.
type Entity struct {
	PartitionKey string         `json:"PartitionKey"`
	RowKey       string         `json:"RowKey"`
	Properties   map[string]any `json:"Properties"`
}

// Table is a handle to one table.
type Table interface {
	// UpsertEntity inserts the entity or fully replaces the one with the same keys.
	UpsertEntity(ctx context.Context, e Entity) error
	GetEntity(ctx context.Context, partitionKey, rowKey string) (Entity, error)
	ListEntities(ctx context.Context, partitionKey string) ([]Entity, error)
}

// Service creates tables and hands out table handles.
type Service interface {
	// CreateTable creates the named table. It returns ErrTableExists (possibly
	// wrapped) when the table is already there.
	CreateTable(ctx context.Context, name string) (Table, error)
	// Table returns a handle to an existing table without a round trip.
	Table(name string) Table
}

// SanitizeKey encodes free text into a key that is legal as a partition or
// row key in every backend ('/', '\', '#' and '?' never appear).
func SanitizeKey(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}
