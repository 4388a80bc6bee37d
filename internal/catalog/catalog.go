// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package catalog remembers which datasets and tables have been provisioned
// during the lifetime of the process.
//
// The cache is the only existence authority used outside of provisioning:
// a lookup never talks to BigQuery, and a miss means the caller forgot to
// provision.
package catalog

import (
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"

	"go.chromium.org/luci/common/errors"

	"infra/bqfacade/internal/bqerrors"
)

// DatasetHandle identifies a dataset known to exist.
type DatasetHandle struct {
	ProjectID string
	DatasetID string
}

// String returns project.dataset.
func (h DatasetHandle) String() string {
	return fmt.Sprintf("%s.%s", h.ProjectID, h.DatasetID)
}

// TableKey is the composite key of a table in the cache.
type TableKey struct {
	Dataset string
	Table   string
}

// TableHandle identifies a table known to exist.
type TableHandle struct {
	ProjectID string
	DatasetID string
	TableID   string
	// Schema is the schema the table was created with by this process.
	// It is nil when the table already existed.
	Schema bigquery.Schema
}

// Key returns the cache key of the handle.
func (h TableHandle) Key() TableKey {
	return TableKey{Dataset: h.DatasetID, Table: h.TableID}
}

// String returns project.dataset.table.
func (h TableHandle) String() string {
	return fmt.Sprintf("%s.%s.%s", h.ProjectID, h.DatasetID, h.TableID)
}

// Cache maps names to handles.
//
// The lock only keeps the maps consistent. It does not serialize
// provisioning: last writer wins.
type Cache struct {
	mu       sync.RWMutex
	datasets map[string]DatasetHandle
	tables   map[TableKey]TableHandle
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		datasets: map[string]DatasetHandle{},
		tables:   map[TableKey]TableHandle{},
	}
}

// PutDataset inserts or overwrites a dataset handle.
func (c *Cache) PutDataset(h DatasetHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[h.DatasetID] = h
}

// PutTable inserts or overwrites a table handle.
func (c *Cache) PutTable(h TableHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[h.Key()] = h
}

// GetDataset looks up a dataset by name.
func (c *Cache) GetDataset(name string) (DatasetHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.datasets[name]
	if !ok {
		return DatasetHandle{}, errors.Reason("dataset %q has not been provisioned", name).Tag(bqerrors.NotFound).Err()
	}
	return h, nil
}

// GetTable looks up a table by dataset and table name.
func (c *Cache) GetTable(dataset, table string) (TableHandle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.tables[TableKey{Dataset: dataset, Table: table}]
	if !ok {
		return TableHandle{}, errors.Reason("table %q in dataset %q has not been provisioned", table, dataset).Tag(bqerrors.NotFound).Err()
	}
	return h, nil
}
