// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package warehouse is a wrapper around the bigquery API.
//
// The real bigquery go library uses a fluent interface. This package does
// not: every call names the dataset and table it is about, which keeps the
// surface small enough to fake.
//
// The Service interface has two implementations:
//
//  1. CloudService -- the production one.
//  2. fakewarehouse.Service -- an in-memory one for tests.
package warehouse

import (
	"context"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"go.chromium.org/luci/common/errors"
)

// Service is the subset of BigQuery used by the facade.
type Service interface {
	// ProjectID is the project the service is bound to.
	ProjectID() string
	// Probe checks connectivity with a single cheap call.
	Probe(ctx context.Context) error
	// DatasetExists reports whether the dataset exists.
	DatasetExists(ctx context.Context, dataset string) (bool, error)
	// CreateDataset creates the dataset.
	CreateDataset(ctx context.Context, dataset string) error
	// TableExists reports whether the table exists.
	TableExists(ctx context.Context, dataset, table string) (bool, error)
	// CreateTable creates the table with the given schema.
	CreateTable(ctx context.Context, dataset, table string, schema bigquery.Schema) error
	// Insert streams rows into the table.
	//
	// A bigquery.PutMultiError is returned when some rows were rejected.
	Insert(ctx context.Context, dataset, table string, rows []bigquery.ValueSaver) error
	// TableMetadata fetches the live metadata of the table.
	TableMetadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error)
	// StartQuery submits a query job.
	StartQuery(ctx context.Context, q QueryConfig) (Job, error)
	// Close releases the underlying client.
	Close() error
}

// QueryConfig describes a query job.
type QueryConfig struct {
	Text           string
	UseLegacySQL   bool
	MaxBillingTier int
}

// Job is a submitted query job.
type Job interface {
	// ID returns the job id.
	ID() string
	// Wait blocks until the service considers the job finished.
	//
	// An error here is a transport error. Errors of the job itself are
	// reported in the returned status.
	Wait(ctx context.Context) (*JobStatus, error)
	// Read returns an iterator over the job's result rows.
	Read(ctx context.Context) (RowIterator, error)
}

// JobStatus is the state of a job after waiting.
type JobStatus struct {
	// Complete is true when the results are ready to be read.
	Complete bool
	// Errors are the execution errors reported for the job.
	Errors []error
}

// RowIterator iterates over result rows.
//
// Next returns iterator.Done when there are no more rows. dst follows the
// rules of bigquery.RowIterator.Next.
type RowIterator interface {
	Next(dst any) error
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return hasCode(err, http.StatusNotFound)
}

// IsAlreadyExists reports whether err is a 409 from the API.
func IsAlreadyExists(err error) bool {
	return hasCode(err, http.StatusConflict)
}

func hasCode(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
