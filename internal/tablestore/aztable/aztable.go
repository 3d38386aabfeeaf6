// Package aztable implements tablestore.Service on Azure Table Storage.
package aztable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"repo-metadata-sync/internal/tablestore"
)

// Compile-time check: *Service implements tablestore.Service.
var _ tablestore.Service = (*Service)(nil)

// Service wraps an aztables.ServiceClient. It is safe for concurrent use.
type Service struct {
	client *aztables.ServiceClient
}

// NewFromConnectionString builds a Service from a storage account connection string.
func NewFromConnectionString(connString string) (*Service, error) {
	client, err := aztables.NewServiceClientFromConnectionString(connString, nil)
	if err != nil {
		return nil, fmt.Errorf("aztables client: %w", err)
	}
	return &Service{client: client}, nil
}

// CreateTable implements tablestore.Service.
func (s *Service) CreateTable(ctx context.Context, name string) (tablestore.Table, error) {
	if _, err := s.client.CreateTable(ctx, name, nil); err != nil {
		if isTableExists(err) {
			return nil, fmt.Errorf("create table %q: %w", name, tablestore.ErrTableExists)
		}
		return nil, fmt.Errorf("create table %q: %w", name, err)
	}
	return s.Table(name), nil
}

// Table implements tablestore.Service.
func (s *Service) Table(name string) tablestore.Table {
	return &table{client: s.client.NewClient(name), name: name}
}

type table struct {
	client *aztables.Client
	name   string
}

func (t *table) UpsertEntity(ctx context.Context, e tablestore.Entity) error {
	payload, err := encodeEntity(e)
	if err != nil {
		return err
	}
	_, err = t.client.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	if err != nil {
		return t.wrap(err, "upsert")
	}
	return nil
}

func (t *table) GetEntity(ctx context.Context, partitionKey, rowKey string) (tablestore.Entity, error) {
	resp, err := t.client.GetEntity(ctx, partitionKey, rowKey, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound &&
			respErr.ErrorCode != "TableNotFound" {
			return tablestore.Entity{}, tablestore.ErrEntityNotFound
		}
		return tablestore.Entity{}, t.wrap(err, "get")
	}
	return decodeEntity(resp.Value)
}

func (t *table) ListEntities(ctx context.Context, partitionKey string) ([]tablestore.Entity, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", strings.ReplaceAll(partitionKey, "'", "''"))
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})

	var entities []tablestore.Entity
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, t.wrap(err, "list")
		}
		for _, raw := range page.Entities {
			e, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			entities = append(entities, e)
		}
	}
	return entities, nil
}

func (t *table) wrap(err error, op string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.ErrorCode == "TableNotFound" {
		return fmt.Errorf("%s %q: %w", op, t.name, tablestore.ErrTableNotFound)
	}
	return fmt.Errorf("%s %q: %w", op, t.name, err)
}

// isTableExists reports whether err is the service's "table already exists" conflict.
func isTableExists(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.ErrorCode == "TableAlreadyExists" ||
		(respErr.ErrorCode == "" && respErr.StatusCode == http.StatusConflict)
}

// encodeEntity flattens an entity into the JSON shape the table service expects.
func encodeEntity(e tablestore.Entity) ([]byte, error) {
	flat := make(map[string]any, len(e.Properties)+2)
	for k, v := range e.Properties {
		flat[k] = v
	}
	flat["PartitionKey"] = e.PartitionKey
	flat["RowKey"] = e.RowKey

	payload, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("marshal entity %s/%s: %w", e.PartitionKey, e.RowKey, err)
	}
	return payload, nil
}

// decodeEntity reverses encodeEntity, dropping service-managed and odata fields.
func decodeEntity(raw []byte) (tablestore.Entity, error) {
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return tablestore.Entity{}, fmt.Errorf("unmarshal entity: %w", err)
	}

	e := tablestore.Entity{Properties: make(map[string]any, len(flat))}
	for k, v := range flat {
		switch {
		case k == "PartitionKey":
			e.PartitionKey, _ = v.(string)
		case k == "RowKey":
			e.RowKey, _ = v.(string)
		case k == "Timestamp", strings.HasPrefix(k, "odata."), strings.Contains(k, "@odata."):
		default:
			e.Properties[k] = v
		}
	}
	return e, nil
}
