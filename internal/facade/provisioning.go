// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package facade

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/bqfacade/internal/bqerrors"
	"infra/bqfacade/internal/catalog"
	"infra/bqfacade/internal/schema"
)

// CreateDataset makes sure the dataset exists and caches its handle.
//
// Calling it again with the same name is harmless and returns the same
// handle.
func (f *Facade) CreateDataset(ctx context.Context, name string) (h catalog.DatasetHandle, err error) {
	const op = "createDataset"
	defer func() { recordOp(ctx, op, err) }()
	data := map[string]any{"dataset": name}

	svc, err := f.conn()
	if err != nil {
		return catalog.DatasetHandle{}, f.fail(ctx, op, err, data)
	}

	logging.Debugf(ctx, "checking whether dataset %q exists", name)
	exists, err := svc.DatasetExists(ctx, name)
	if err != nil {
		return catalog.DatasetHandle{}, f.fail(ctx, op, err, data)
	}
	if exists {
		f.success(ctx, fmt.Sprintf("dataset %s already exists", name), data)
	} else {
		if err := svc.CreateDataset(ctx, name); err != nil {
			return catalog.DatasetHandle{}, f.fail(ctx, op, err, data)
		}
		f.success(ctx, fmt.Sprintf("dataset %s created", name), data)
	}

	h = catalog.DatasetHandle{ProjectID: svc.ProjectID(), DatasetID: name}
	f.catalog.PutDataset(h)
	return h, nil
}

// CreateTable makes sure the table exists and caches its handle.
//
// The dataset must have been provisioned with CreateDataset first. s is only
// used when the table does not exist yet, in which case it is required.
func (f *Facade) CreateTable(ctx context.Context, dataset, table string, s schema.Schema) (h catalog.TableHandle, err error) {
	const op = "createTable"
	defer func() { recordOp(ctx, op, err) }()
	data := map[string]any{"dataset": dataset, "table": table}

	svc, err := f.conn()
	if err != nil {
		return catalog.TableHandle{}, f.fail(ctx, op, err, data)
	}
	if _, err := f.catalog.GetDataset(dataset); err != nil {
		return catalog.TableHandle{}, f.fail(ctx, op, err, data)
	}
	var bqSchema bigquery.Schema
	if s != nil {
		if bqSchema, err = s.BQSchema(); err != nil {
			return catalog.TableHandle{}, f.fail(ctx, op, err, data)
		}
	}

	logging.Debugf(ctx, "checking whether table %q exists in dataset %q", table, dataset)
	exists, err := svc.TableExists(ctx, dataset, table)
	if err != nil {
		return catalog.TableHandle{}, f.fail(ctx, op, err, data)
	}

	h = catalog.TableHandle{
		ProjectID: svc.ProjectID(),
		DatasetID: dataset,
		TableID:   table,
	}
	switch {
	case exists:
		f.success(ctx, fmt.Sprintf("table %s already exists", h), data)
	case s == nil:
		err := errors.Reason("table %s does not exist and no schema was given", h).Tag(bqerrors.SchemaRequired).Err()
		return catalog.TableHandle{}, f.fail(ctx, op, err, data)
	default:
		if err := svc.CreateTable(ctx, dataset, table, bqSchema); err != nil {
			return catalog.TableHandle{}, f.fail(ctx, op, err, data)
		}
		h.Schema = bqSchema
		f.success(ctx, fmt.Sprintf("table %s created", h), data)
	}

	f.catalog.PutTable(h)
	return h, nil
}

// GetDataset returns the cached handle of a provisioned dataset.
//
// It never calls BigQuery.
func (f *Facade) GetDataset(name string) (catalog.DatasetHandle, error) {
	h, err := f.catalog.GetDataset(name)
	if err != nil {
		return h, f.fail(context.Background(), "getDataset", err, map[string]any{"dataset": name})
	}
	return h, nil
}

// GetTable returns the cached handle of a provisioned table.
//
// It never calls BigQuery.
func (f *Facade) GetTable(dataset, table string) (catalog.TableHandle, error) {
	h, err := f.catalog.GetTable(dataset, table)
	if err != nil {
		return h, f.fail(context.Background(), "getTable", err, map[string]any{"dataset": dataset, "table": table})
	}
	return h, nil
}
