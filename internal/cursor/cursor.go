// Package cursor remembers, per repository, the head commit that was last
// scanned successfully.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"repo-metadata-sync/internal/tablestore"
)

const (
	// Partition is the partition key cursor rows are stored under.
	Partition = "RepoCommit"

	shaProperty    = "CommitSha"
	redisKeyPrefix = "reposync:cursor:"
)

// Store reads and writes cursors keyed by repository full name. Get returns an
// empty string when the repository was never scanned.
type Store interface {
	Get(ctx context.Context, fullName string) (string, error)
	Set(ctx context.Context, fullName, sha string) error
}

// Compile-time checks.
var (
	_ Store = (*TableStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// TableStore keeps cursors as rows of a table-store table.
type TableStore struct {
	svc  tablestore.Service
	name string

	mu    sync.Mutex
	table tablestore.Table
}

// NewTableStore returns a TableStore writing into the named table. The table
// is created on first use.
func NewTableStore(svc tablestore.Service, tableName string) *TableStore {
	return &TableStore{svc: svc, name: tableName}
}

func (s *TableStore) open(ctx context.Context) (tablestore.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table != nil {
		return s.table, nil
	}
	t, err := s.svc.CreateTable(ctx, s.name)
	if errors.Is(err, tablestore.ErrTableExists) {
		t, err = s.svc.Table(s.name), nil
	}
	if err != nil {
		return nil, err
	}
	s.table = t
	return t, nil
}

func (s *TableStore) Get(ctx context.Context, fullName string) (string, error) {
	t, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	e, err := t.GetEntity(ctx, Partition, tablestore.SanitizeKey(fullName))
	if errors.Is(err, tablestore.ErrEntityNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor for %s: %w", fullName, err)
	}
	sha, _ := e.Properties[shaProperty].(string)
	return sha, nil
}

func (s *TableStore) Set(ctx context.Context, fullName, sha string) error {
	t, err := s.open(ctx)
	if err != nil {
		return err
	}
	err = t.UpsertEntity(ctx, tablestore.Entity{
		PartitionKey: Partition,
		RowKey:       tablestore.SanitizeKey(fullName),
		Properties: map[string]any{
			"Repo":      fullName,
			shaProperty: sha,
		},
	})
	if err != nil {
		return fmt.Errorf("set cursor for %s: %w", fullName, err)
	}
	return nil
}

// RedisStore keeps cursors as plain redis string keys.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisStoreFromURL parses a redis:// URL and returns a RedisStore for it.
func NewRedisStoreFromURL(rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

func (s *RedisStore) Get(ctx context.Context, fullName string) (string, error) {
	sha, err := s.rdb.Get(ctx, redisKeyPrefix+fullName).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get cursor for %s: %w", fullName, err)
	}
	return sha, nil
}

func (s *RedisStore) Set(ctx context.Context, fullName, sha string) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+fullName, sha, 0).Err(); err != nil {
		return fmt.Errorf("set cursor for %s: %w", fullName, err)
	}
	return nil
}

// Close releases the redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
