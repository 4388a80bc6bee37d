// Copyright 2024 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package warehouse

import (
	"context"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"go.chromium.org/luci/common/errors"
)

// CloudService wraps the prod client.
type CloudService struct {
	client *bigquery.Client
}

// Assert that CloudService satisfies the right interface.
var _ Service = &CloudService{}

// NewCloudService makes a new client bound to projectID.
func NewCloudService(ctx context.Context, projectID string, opts ...option.ClientOption) (*CloudService, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "new cloud service").Err()
	}
	return &CloudService{client: client}, nil
}

// ProjectID returns the project of the client.
func (s *CloudService) ProjectID() string {
	return s.client.Project()
}

// Probe lists at most one dataset.
func (s *CloudService) Probe(ctx context.Context) error {
	it := s.client.Datasets(ctx)
	it.PageInfo().MaxSize = 1
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return err
	}
	return nil
}

// DatasetExists fetches the dataset metadata and maps a 404 to false.
func (s *CloudService) DatasetExists(ctx context.Context, dataset string) (bool, error) {
	switch _, err := s.client.Dataset(dataset).Metadata(ctx); {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// CreateDataset creates an empty dataset with default settings.
func (s *CloudService) CreateDataset(ctx context.Context, dataset string) error {
	return s.client.Dataset(dataset).Create(ctx, &bigquery.DatasetMetadata{})
}

// TableExists fetches the table metadata and maps a 404 to false.
func (s *CloudService) TableExists(ctx context.Context, dataset, table string) (bool, error) {
	switch _, err := s.table(dataset, table).Metadata(ctx); {
	case err == nil:
		return true, nil
	case IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// CreateTable creates a table in the BigQuery service.
func (s *CloudService) CreateTable(ctx context.Context, dataset, table string, schema bigquery.Schema) error {
	return s.table(dataset, table).Create(ctx, &bigquery.TableMetadata{Schema: schema})
}

// Insert writes rows to BigQuery.
func (s *CloudService) Insert(ctx context.Context, dataset, table string, rows []bigquery.ValueSaver) error {
	return s.table(dataset, table).Inserter().Put(ctx, rows)
}

// TableMetadata fetches the metadata for the table.
func (s *CloudService) TableMetadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error) {
	return s.table(dataset, table).Metadata(ctx)
}

// StartQuery runs a query job.
func (s *CloudService) StartQuery(ctx context.Context, qc QueryConfig) (Job, error) {
	q := s.client.Query(qc.Text)
	q.UseLegacySQL = qc.UseLegacySQL
	q.MaxBillingTier = qc.MaxBillingTier
	job, err := q.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &cloudJob{job: job}, nil
}

// Close closes the client.
func (s *CloudService) Close() error {
	return s.client.Close()
}

func (s *CloudService) table(dataset, table string) *bigquery.Table {
	return s.client.Dataset(dataset).Table(table)
}

// cloudJob adapts *bigquery.Job.
type cloudJob struct {
	job *bigquery.Job
}

func (j *cloudJob) ID() string {
	return j.job.ID()
}

// Wait waits for the job and reports its final status.
//
// For query jobs the client waits through jobs.getQueryResults, which fails
// outright when the query itself failed. In that case the job status is
// fetched separately, so execution errors end up in JobStatus.Errors and
// only genuine transport failures are returned as errors.
func (j *cloudJob) Wait(ctx context.Context) (*JobStatus, error) {
	status, err := j.job.Wait(ctx)
	if err != nil {
		st, serr := j.job.Status(ctx)
		if serr != nil || !st.Done() || (st.Err() == nil && len(st.Errors) == 0) {
			return nil, err
		}
		status = st
	}
	return toJobStatus(status), nil
}

func toJobStatus(status *bigquery.JobStatus) *JobStatus {
	out := &JobStatus{Complete: status.Done()}
	for _, e := range status.Errors {
		if e != nil {
			out.Errors = append(out.Errors, e)
		}
	}
	if len(out.Errors) == 0 && status.Err() != nil {
		out.Errors = append(out.Errors, status.Err())
	}
	return out
}

func (j *cloudJob) Read(ctx context.Context) (RowIterator, error) {
	it, err := j.job.Read(ctx)
	if err != nil {
		return nil, err
	}
	return it, nil
}
